package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalDeterministic(t *testing.T) {
	payload := map[string]any{
		"zulu":  []int{3, 2, 1},
		"alpha": "valor",
		"nested": map[string]any{
			"b": 2,
			"a": 1,
		},
	}

	first, err := Canonical(payload)
	require.NoError(t, err)

	second, err := Canonical(payload)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCanonicalSortsKeys(t *testing.T) {
	out, err := Canonical(map[string]int{"b": 2, "a": 1, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestCanonicalString(t *testing.T) {
	out, err := Canonical("maçã")
	require.NoError(t, err)
	assert.Equal(t, []byte("maçã"), out)
}

func TestCanonicalRoundTripStable(t *testing.T) {
	// Re-encoding decoded wire bytes must reproduce the same bytes,
	// including numeric literals.
	wire := json.RawMessage(`[{"preco":1.0,"produto":"maçã","quantidade":10}]`)

	first, err := Canonical(wire)
	require.NoError(t, err)

	second, err := Canonical(json.RawMessage(first))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNewEnvelopeStringPayload(t *testing.T) {
	env, err := New("Sucesso", []byte{0xde, 0xad}, []byte("-----BEGIN CERTIFICATE-----"))
	require.NoError(t, err)

	// The mensagem field is valid JSON on the wire...
	assert.Equal(t, `"Sucesso"`, string(env.Mensagem))

	// ...but the signed bytes are the raw string.
	signed, err := env.SignedBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("Sucesso"), signed)

	sig, err := env.Signature()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, sig)
}

func TestNewEnvelopeStructuredPayload(t *testing.T) {
	env, err := New([]string{"fruta", "livros"}, []byte{1}, nil)
	require.NoError(t, err)

	signed, err := env.SignedBytes()
	require.NoError(t, err)
	assert.Equal(t, `["fruta","livros"]`, string(signed))

	var categorias []string
	require.NoError(t, env.DecodeMessage(&categorias))
	assert.Equal(t, []string{"fruta", "livros"}, categorias)
}

func TestEnvelopeWireShape(t *testing.T) {
	env, err := New([]string{"fruta"}, []byte{0xff}, []byte("CERT"))
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Contains(t, fields, "assinatura")
	assert.Contains(t, fields, "certificado")
	assert.Contains(t, fields, "mensagem")
}

func TestSignatureMalformed(t *testing.T) {
	env := &Envelope{Assinatura: "not base64!!"}
	_, err := env.Signature()
	assert.Error(t, err)

	env = &Envelope{}
	_, err = env.Signature()
	assert.ErrorIs(t, err, ErrEmptySignature)
}
