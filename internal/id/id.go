// Package id provides ID generation helpers used across the service.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixMessage = "msg"
	PrefixSession = "sess"
	PrefixChatbot = "cb"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewMessage() string { return New(PrefixMessage) }
func NewSession() string { return New(PrefixSession) }
func NewChatbot() string { return New(PrefixChatbot) }
