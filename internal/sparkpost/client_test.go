package sparkpost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticKey(key string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return key, nil }
}

func TestSendCarriesRecipientsAndMetadata(t *testing.T) {
	var got Transmission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transmissions", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results": {"id": "tx1", "total_accepted_recipients": 2, "total_rejected_recipients": 0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticKey("k1"), srv.Client())
	res, err := c.Send(context.Background(), Transmission{
		CampaignID: "c1",
		Recipients: []Recipient{
			{
				Address:          Address{Email: "a@example.com"},
				SubstitutionData: map[string]string{"first_name": "Ada"},
				Metadata:         map[string]string{"campaign_id": "c1", "person_id": "p1", "batch_id": "b1"},
			},
			{Address: Address{Email: "b@example.com"}},
		},
		Content: Content{From: Address{Email: "team@example.org"}, Subject: "Hi", HTML: "<p>Hi</p>"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Results.TotalAccepted)
	require.Len(t, got.Recipients, 2)
	assert.Equal(t, "p1", got.Recipients[0].Metadata["person_id"])
	assert.Equal(t, "Ada", got.Recipients[0].SubstitutionData["first_name"])
}

func TestSendSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors": [{"message": "invalid from"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticKey("k1"), srv.Client())
	_, err := c.Send(context.Background(), Transmission{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestWebhookEventPayloadSelection(t *testing.T) {
	raw := `[
		{"msys": {"message_event": {"type": "delivered", "event_id": "e1", "rcpt_meta": {"person_id": "p1"}}}},
		{"msys": {"track_event": {"type": "click", "event_id": "e2", "rcpt_meta": {"person_id": "p2"}}}},
		{"msys": {}}
	]`
	var events []WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &events))

	require.NotNil(t, events[0].Payload())
	assert.Equal(t, "delivered", events[0].Payload().Type)
	assert.Equal(t, "p2", events[1].Payload().Metadata["person_id"])
	assert.Nil(t, events[2].Payload())
}
