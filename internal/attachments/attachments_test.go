package attachments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyLayout(t *testing.T) {
	at := time.Date(2024, 5, 6, 23, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	key := ObjectKey("conv_1", "Báo cáo Q1.pdf", at)

	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "conversations", parts[0])
	assert.Equal(t, "conv_1", parts[1])
	assert.Equal(t, "20240506", parts[2])
	assert.True(t, strings.HasPrefix(parts[3], "att_"))
	assert.True(t, strings.HasSuffix(parts[3], "-Bo_co_Q1.pdf"))
}

func TestObjectKeysAreUnique(t *testing.T) {
	at := time.Now()
	assert.NotEqual(t, ObjectKey("c", "a.txt", at), ObjectKey("c", "a.txt", at))
}

func TestCleanName(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd":   "passwd",
		`C:\Users\me\a.xlsx`: "a.xlsx",
		"...":                "file",
		"":                   "file",
		"plan v2.md":         "plan_v2.md",
	}
	for input, want := range cases {
		assert.Equal(t, want, cleanName(input), input)
	}
}

func TestCheck(t *testing.T) {
	assert.ErrorIs(t, Check(nil), ErrEmpty)
	assert.ErrorIs(t, Check(make([]byte, MaxSize+1)), ErrTooLarge)
	assert.NoError(t, Check([]byte("x")))
}

func TestPutRejectsEmptyBeforeUpload(t *testing.T) {
	client, err := minio.New("127.0.0.1:1", &minio.Options{})
	require.NoError(t, err)
	s := &Store{client: client, bucket: "b", now: time.Now}

	_, err = s.Put(context.Background(), "conv_1", "a.txt", "text/plain", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}
