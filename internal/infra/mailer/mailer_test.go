package mailer

import (
	"context"
	"testing"

	"github.com/boddenberg/esim-fleet-bfa/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var sample = port.ActivationEmail{
	To:             "ana@acme.test",
	EmployeeName:   "Ana <Lima>",
	PlanName:       "Europe 5GB",
	QRCodeURL:      "https://p.example/qr/100.png",
	ActivationCode: "LPA:1$smdp.example$ABC",
	ValidityDays:   30,
}

func TestRenderer_Activation(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	body, err := r.Activation(sample)
	require.NoError(t, err)

	assert.Contains(t, body, "Europe 5GB")
	assert.Contains(t, body, `src="https://p.example/qr/100.png"`)
	assert.Contains(t, body, "LPA:1$smdp.example$ABC")
	assert.Contains(t, body, "valid for 30 days")
	assert.Contains(t, body, "Ana &lt;Lima&gt;", "names are escaped")
}

func TestActivationText(t *testing.T) {
	text := activationText(sample)
	assert.Contains(t, text, "Activation code: LPA:1$smdp.example$ABC")
	assert.Equal(t, "Your Europe 5GB eSIM is ready", activationSubject(sample))
}

func TestLogMailer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	core, logs := observer.New(zap.InfoLevel)

	m := NewLogMailer(r, zap.New(core))
	require.NoError(t, m.SendActivation(context.Background(), sample))

	entries := logs.FilterMessage("mailer: activation email (not sent)").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ana@acme.test", entries[0].ContextMap()["to"])
}
