package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Defaults used when config does not override them.
const (
	DefaultDoubtMaxLength = 1000
	DefaultPollMaxOptions = 10
	MaxTitleLength        = 200
	MaxQuestionLength     = 500
)

// NormalizeDoubtText trims text and checks it against maxLen runes.
func NormalizeDoubtText(text string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultDoubtMaxLength
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidText)
	}
	t := strings.TrimSpace(text)
	if t == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if n := utf8.RuneCountInString(t); n > maxLen {
		return "", fmt.Errorf("%w: %d characters, limit is %d", ErrInvalidText, n, maxLen)
	}
	return t, nil
}

// NormalizePoll trims the question and options and checks their shape.
func NormalizePoll(question string, options []string, maxOptions int) (string, []string, error) {
	if maxOptions < 2 {
		maxOptions = DefaultPollMaxOptions
	}
	if !utf8.ValidString(question) {
		return "", nil, fmt.Errorf("%w: question is not valid UTF-8", ErrInvalidPoll)
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return "", nil, fmt.Errorf("%w: empty question", ErrInvalidPoll)
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", nil, fmt.Errorf("%w: question too long", ErrInvalidPoll)
	}
	if len(options) < 2 {
		return "", nil, fmt.Errorf("%w: %d options", ErrInvalidPoll, len(options))
	}
	if len(options) > maxOptions {
		return "", nil, fmt.Errorf("%w: more than %d options", ErrInvalidPoll, maxOptions)
	}
	out := make([]string, len(options))
	for i, o := range options {
		if !utf8.ValidString(o) {
			return "", nil, fmt.Errorf("%w: option %d is not valid UTF-8", ErrInvalidPoll, i)
		}
		o = strings.TrimSpace(o)
		if o == "" {
			return "", nil, fmt.Errorf("%w: option %d is empty", ErrInvalidPoll, i)
		}
		out[i] = o
	}
	return q, out, nil
}

// NormalizeTitle trims a session title; an empty title is allowed.
func NormalizeTitle(title string) (string, error) {
	if !utf8.ValidString(title) {
		return "", fmt.Errorf("%w: title is not valid UTF-8", ErrInvalidInput)
	}
	t := strings.TrimSpace(title)
	if utf8.RuneCountInString(t) > MaxTitleLength {
		return "", fmt.Errorf("%w: title too long", ErrInvalidInput)
	}
	return t, nil
}

// CheckOption validates idx against a poll with optionCount options.
func CheckOption(idx, optionCount int) error {
	if idx < 0 || idx >= optionCount {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidOption, idx, optionCount)
	}
	return nil
}
