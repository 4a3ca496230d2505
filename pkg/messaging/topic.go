package messaging

import "strings"

// MatchTopic reports whether a routing key matches a binding pattern under
// AMQP topic-exchange rules: words are dot-separated, '*' matches exactly
// one word, '#' matches zero or more words.
func MatchTopic(pattern, routingKey string) bool {
	if pattern == routingKey {
		return true
	}

	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	switch {
	case len(pattern) == 0:
		return len(key) == 0
	case pattern[0] == "#":
		// '#' consumes zero words, or one and stays greedy.
		if matchWords(pattern[1:], key) {
			return true
		}
		return len(key) > 0 && matchWords(pattern, key[1:])
	case len(key) == 0:
		return false
	case pattern[0] == "*" || pattern[0] == key[0]:
		return matchWords(pattern[1:], key[1:])
	default:
		return false
	}
}
