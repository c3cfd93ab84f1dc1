package model

// Telegram Bot API objects, reduced to the fields the relay reads.

type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

type TelegramChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

type TelegramMessage struct {
	MessageID      int64          `json:"message_id"`
	From           *TelegramUser  `json:"from,omitempty"`
	Chat           TelegramChat   `json:"chat"`
	Date           int64          `json:"date"`
	Text           string         `json:"text,omitempty"`
	NewChatMembers []TelegramUser `json:"new_chat_members,omitempty"`
}

type TelegramCallbackQuery struct {
	ID      string           `json:"id"`
	From    TelegramUser     `json:"from"`
	Message *TelegramMessage `json:"message,omitempty"`
	Data    string           `json:"data,omitempty"`
}

type TelegramUpdate struct {
	UpdateID      int64                  `json:"update_id"`
	Message       *TelegramMessage       `json:"message,omitempty"`
	ChannelPost   *TelegramMessage       `json:"channel_post,omitempty"`
	CallbackQuery *TelegramCallbackQuery `json:"callback_query,omitempty"`
}

// EffectiveMessage returns the message or channel post carried by the update.
func (u *TelegramUpdate) EffectiveMessage() *TelegramMessage {
	if u.Message != nil {
		return u.Message
	}
	return u.ChannelPost
}

// InlineButton is one button of an inline keyboard row.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

const ParseModeMarkdown = "Markdown"

// OutgoingMessage is a message addressed to a chat.
type OutgoingMessage struct {
	ChatID    int64
	Text      string
	ParseMode string
	Buttons   [][]InlineButton
}
