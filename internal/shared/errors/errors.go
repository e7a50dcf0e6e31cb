package errors

import "errors"

var (
	ErrMissingBotToken    = errors.New("telegram_bot_token is required")
	ErrMissingChatID      = errors.New("assistant_chat_id is required")
	ErrMissingPlatformAPI = errors.New("telegram_api_id and telegram_api_hash are required")
	ErrChatUnresolved     = errors.New("chat could not be resolved")
	ErrNoChats            = errors.New("no chats configured")
)
