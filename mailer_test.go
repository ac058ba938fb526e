package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposer_Compose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Ada_Lovelace.png")
	require.NoError(t, os.WriteFile(path, []byte("png bytes"), 0o644))

	c, err := NewComposer(DefaultMessageTemplate(), "NDITC")
	require.NoError(t, err)

	recipient := Recipient{Row: 2, Name: "Ada Lovelace", Email: "ada@example.com"}
	input, err := c.Compose(recipient, path)
	require.NoError(t, err)

	assert.Equal(t, recipient, input.Recipient)
	assert.Equal(t, "Certificate of Achievement - Ada Lovelace", input.Subject)
	assert.Contains(t, input.Message, "Dear Ada Lovelace,")
	assert.Contains(t, input.Message, "Regards,\nNDITC")
	require.Len(t, input.Attachments, 1)
	assert.Equal(t, Attachment{Filename: "Ada_Lovelace.png", ContentType: "image/png", Content: []byte("png bytes")}, input.Attachments[0])
}

func TestComposer_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewComposer(MessageTemplate{Subject: "{{.Name", Body: "x"}, "")
	require.Error(t, err)

	c, err := NewComposer(MessageTemplate{Subject: "{{.Missing}}", Body: "x"}, "")
	require.NoError(t, err)
	_, err = c.Compose(Recipient{Name: "Ada"}, "unused.png")
	require.Error(t, err)

	c, err = NewComposer(DefaultMessageTemplate(), "")
	require.NoError(t, err)
	_, err = c.Compose(Recipient{Name: "Ada"}, filepath.Join(t.TempDir(), "gone.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSendError_Classification(t *testing.T) {
	t.Parallel()

	auth := &SendError{Kind: ErrAuth, Err: errors.New("535")}
	connect := &SendError{Kind: ErrConnect, Err: errors.New("refused")}
	transient := &SendError{Kind: ErrTransient, Email: "a@example.com", Err: errors.New("550")}

	assert.True(t, IsFatal(auth))
	assert.True(t, IsFatal(connect))
	assert.False(t, IsFatal(transient))
	assert.False(t, IsFatal(&RenderError{Name: "Ada", Err: errors.New("disk full")}))
	assert.Equal(t, "delivery failed for a@example.com: 550", transient.Error())
}
