package sparkpost

// Address is a sender or recipient email address.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Recipient is one transmission recipient with its per-recipient
// substitutions and correlation metadata. Metadata comes back verbatim on
// webhook events.
type Recipient struct {
	Address          Address           `json:"address"`
	SubstitutionData map[string]string `json:"substitution_data,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Content is the shared message body for a transmission.
type Content struct {
	From    Address `json:"from"`
	Subject string  `json:"subject"`
	HTML    string  `json:"html"`
}

// Transmission is one batched send.
type Transmission struct {
	CampaignID string      `json:"campaign_id,omitempty"`
	Recipients []Recipient `json:"recipients"`
	Content    Content     `json:"content"`
}

// TransmissionResult is the provider's accept/reject accounting.
type TransmissionResult struct {
	Results struct {
		ID            string `json:"id"`
		TotalAccepted int    `json:"total_accepted_recipients"`
		TotalRejected int    `json:"total_rejected_recipients"`
	} `json:"results"`
}

// WebhookEvent is one entry of the provider's event batch payload. Only
// the branches the reconciler consumes are mapped.
type WebhookEvent struct {
	MSys struct {
		MessageEvent *EventPayload `json:"message_event,omitempty"`
		TrackEvent   *EventPayload `json:"track_event,omitempty"`
		UnsubEvent   *EventPayload `json:"unsubscribe_event,omitempty"`
	} `json:"msys"`
}

// EventPayload carries the event kind, its unique id, and the metadata
// attached at dispatch time.
type EventPayload struct {
	Type      string            `json:"type"`
	EventID   string            `json:"event_id"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"rcpt_meta"`
}

// Payload returns whichever event branch is populated.
func (e WebhookEvent) Payload() *EventPayload {
	switch {
	case e.MSys.MessageEvent != nil:
		return e.MSys.MessageEvent
	case e.MSys.TrackEvent != nil:
		return e.MSys.TrackEvent
	case e.MSys.UnsubEvent != nil:
		return e.MSys.UnsubEvent
	}
	return nil
}
