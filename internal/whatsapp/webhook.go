package whatsapp

// Meta-standard WhatsApp Cloud API webhook payload.

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile ContactProfile `json:"profile"`
	WaID    string         `json:"wa_id"`
}

type ContactProfile struct {
	Name string `json:"name"`
}

type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextContent `json:"text,omitempty"`
	Button      *ButtonReply `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type TextContent struct {
	Body string `json:"body"`
}

type ButtonReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type Interactive struct {
	Type        string             `json:"type"`
	ButtonReply *InteractiveReply  `json:"button_reply,omitempty"`
	ListReply   *InteractiveReply  `json:"list_reply,omitempty"`
}

type InteractiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Status struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// IsMessage reports whether the payload carries at least one user message.
func (p WebhookPayload) IsMessage() bool {
	_, ok := p.FirstMessage()
	return ok
}

// FirstMessage returns the first message in the delivery, if any.
func (p WebhookPayload) FirstMessage() (Message, bool) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) > 0 {
				return change.Value.Messages[0], true
			}
		}
	}
	return Message{}, false
}

// SenderName returns the contact profile name for the first message's sender.
func (p WebhookPayload) SenderName() string {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Contacts) > 0 {
				return change.Value.Contacts[0].Profile.Name
			}
		}
	}
	return ""
}

// Body extracts the reply text regardless of message type: plain text body,
// template button payload, or interactive button/list reply ID.
func (m Message) Body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		if m.Button.Payload != "" {
			return m.Button.Payload
		}
		return m.Button.Text
	case m.Interactive != nil:
		if m.Interactive.ButtonReply != nil {
			return m.Interactive.ButtonReply.ID
		}
		if m.Interactive.ListReply != nil {
			return m.Interactive.ListReply.ID
		}
	}
	return ""
}
