package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hkbot/internal/domain"
	"hkbot/internal/whatsapp"
)

const sampleDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "PNID"},
        "contacts": [{"wa_id": "5511999990001", "profile": {"name": "Maria"}}],
        "messages": [
          {"from": "5511999990001", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "lamp broken"}},
          {"from": "5511999990001", "id": "wamid.B", "timestamp": "1700000005", "type": "image", "image": {"id": "IMG", "mime_type": "image/jpeg", "caption": "room 12"}},
          {"from": "5511999990001", "id": "wamid.C", "timestamp": "1700000009", "type": "audio", "audio": {"id": "AUD", "mime_type": "audio/ogg; codecs=opus", "voice": true}}
        ]
      }
    }]
  }]
}`

func decodePayload(t *testing.T, raw string) *whatsapp.Payload {
	t.Helper()
	var p whatsapp.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestValidateDelivery_FlattensMessages(t *testing.T) {
	d, err := ValidateDelivery(decodePayload(t, sampleDelivery), "fallback-biz")
	require.NoError(t, err)
	require.Len(t, d.Messages, 3)

	text := d.Messages[0]
	require.Equal(t, "PNID", text.BusinessID)
	require.Equal(t, domain.MessageText, text.Message.Type)
	require.Equal(t, "lamp broken", text.Message.Text)
	require.Equal(t, "Maria", text.Message.SenderName)
	require.Equal(t, "5511999990001", text.Message.UserID())
	require.Equal(t, time.Unix(1700000000, 0).UTC(), text.Message.Timestamp)
	require.Equal(t, "PNID:5511999990001", text.Key())

	img := d.Messages[1].Message
	require.Equal(t, &domain.MediaRef{ID: "IMG", MimeType: "image/jpeg", Caption: "room 12"}, img.Media)

	audio := d.Messages[2].Message
	require.Equal(t, "AUD", audio.Media.ID)
}

func TestValidateDelivery_BusinessIDFallback(t *testing.T) {
	p := decodePayload(t, sampleDelivery)
	p.Entry[0].Changes[0].Value.Metadata.PhoneNumberID = ""

	d, err := ValidateDelivery(p, "fallback-biz")
	require.NoError(t, err)
	require.Equal(t, "fallback-biz", d.Messages[0].BusinessID)
}

func TestValidateDelivery_Rejects(t *testing.T) {
	cases := map[string]*whatsapp.Payload{
		"nil":         nil,
		"wrong type":  {Object: "page", Entry: []whatsapp.Entry{{}}},
		"no entries":  {Object: whatsapp.ObjectBusinessAccount},
		"status only": decodePayload(t, `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x","status":"read"}]}}]}]}`),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateDelivery(p, "")
			require.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}

	_, err := ValidateDelivery(cases["status only"], "")
	require.True(t, errors.Is(err, ErrNoMessages))
	_, err = ValidateDelivery(cases["wrong type"], "")
	require.False(t, errors.Is(err, ErrNoMessages))
}
