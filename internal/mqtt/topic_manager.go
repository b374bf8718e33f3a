package mqtt

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	FixSubPattern              = "%s/fixes/+"
	FixTopicPattern            = "%s/fixes/%s"
	ProviderStatusTopicPattern = "%s/providers/%s/status"
	ProviderLocationPattern    = "%s/providers/%s/location"
)

type TopicManager struct {
	baseTopic string
	patterns  map[string]*regexp.Regexp
	mu        sync.RWMutex
}

func NewTopicManager(baseTopic string) *TopicManager {
	return &TopicManager{
		baseTopic: strings.TrimSuffix(baseTopic, "/"),
		patterns:  make(map[string]*regexp.Regexp),
	}
}

func (tm *TopicManager) GetBaseTopic() string {
	return tm.baseTopic
}

func (tm *TopicManager) GetFixSubTopic() string {
	return fmt.Sprintf(FixSubPattern, tm.baseTopic)
}

func (tm *TopicManager) GetFixTopic(provider string) string {
	return fmt.Sprintf(FixTopicPattern, tm.baseTopic, provider)
}

func (tm *TopicManager) GetProviderStatusTopic(provider string) string {
	return fmt.Sprintf(ProviderStatusTopicPattern, tm.baseTopic, provider)
}

func (tm *TopicManager) GetProviderLocationTopic(provider string) string {
	return fmt.Sprintf(ProviderLocationPattern, tm.baseTopic, provider)
}

// ExtractProvider returns the provider name carried by a fix topic.
func (tm *TopicManager) ExtractProvider(topic string) (string, error) {
	regex := tm.getOrCreateRegex(FixSubPattern)
	matches := regex.FindStringSubmatch(topic)

	if len(matches) < 2 {
		return "", fmt.Errorf("could not extract provider from topic '%s'", topic)
	}

	return matches[1], nil
}

func (tm *TopicManager) getOrCreateRegex(pattern string) *regexp.Regexp {
	tm.mu.RLock()
	if regex, exists := tm.patterns[pattern]; exists {
		tm.mu.RUnlock()
		return regex
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if regex, exists := tm.patterns[pattern]; exists {
		return regex
	}

	regex := tm.buildTopicRegex(pattern)
	tm.patterns[pattern] = regex
	return regex
}

func (tm *TopicManager) buildTopicRegex(pattern string) *regexp.Regexp {
	regexPattern := strings.ReplaceAll(pattern, "%s", regexp.QuoteMeta(tm.baseTopic))
	regexPattern = strings.ReplaceAll(regexPattern, "+", "([^/]+)")
	regexPattern = strings.ReplaceAll(regexPattern, "#", "(.*)")
	regexPattern = "^" + regexPattern + "$"

	return regexp.MustCompile(regexPattern)
}
