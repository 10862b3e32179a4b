package upload

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, fields map[string]string, file *filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func mp3Part(data []byte) *filePart {
	return &filePart{field: "file", filename: "track.mp3", contentType: "audio/mpeg", data: data}
}

// id3Tag builds a minimal ID3v2.3 header with title and artist frames.
func id3Tag(title, artist string) []byte {
	frame := func(id, text string) []byte {
		body := append([]byte{0x00}, text...)
		n := len(body)
		b := append([]byte(id), byte(n>>24), byte(n>>16), byte(n>>8), byte(n), 0, 0)
		return append(b, body...)
	}
	frames := append(frame("TIT2", title), frame("TPE1", artist)...)
	frames = append(frames, make([]byte, 16)...)
	n := len(frames)
	header := []byte{'I', 'D', '3', 3, 0, 0, byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f)}
	out := append(header, frames...)
	return append(out, bytes.Repeat([]byte{0xff, 0xfb, 0x90, 0x00}, 64)...)
}

func parse(t *testing.T, p *Policy, req *http.Request) (*UploadRequest, error) {
	t.Helper()
	return p.ParseRequest(httptest.NewRecorder(), req)
}

func assertValidation(t *testing.T, err error, target error) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, target)
}

func TestParseRequest_Valid(t *testing.T) {
	p := NewPolicy(0, nil, nil)
	req := multipartRequest(t, map[string]string{
		"title":   "Demo",
		"artist":  "Jane",
		"section": "For-Sale",
		"price":   "$12.50",
	}, mp3Part(bytes.Repeat([]byte{0xff, 0xfb}, 1024)))

	got, err := parse(t, p, req)
	require.NoError(t, err)

	_, perr := uuid.Parse(got.ID)
	assert.NoError(t, perr)
	assert.False(t, got.Resubmission)
	assert.Equal(t, "Demo", got.Title)
	assert.Equal(t, "Jane", got.Artist)
	assert.Equal(t, "for-sale", got.Section)
	assert.Equal(t, "audio/mpeg", got.ContentType)
	assert.Equal(t, ".mp3", got.Ext)
	assert.Equal(t, got.ID+".mp3", got.Key())
	require.NotNil(t, got.Price)
	assert.Equal(t, "$12.50", *got.Price)
	assert.Len(t, got.Data, 2048)

	rec := got.Record(got.Key(), "/files/"+got.Key(), fixedNow)
	require.NotNil(t, rec.PriceAmount)
	assert.InDelta(t, 12.5, *rec.PriceAmount, 0.0001)
	assert.True(t, rec.ForSale())
}

func TestParseRequest_AcceptsAudioField(t *testing.T) {
	part := mp3Part([]byte("audio"))
	part.field = "audio"

	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, nil, part))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), got.Data)
}

func TestParseRequest_MissingFile(t *testing.T) {
	_, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, map[string]string{"title": "Demo"}, nil))
	assertValidation(t, err, ErrMissingFile)
}

func TestParseRequest_NotMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/uploads", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	_, err := parse(t, NewPolicy(0, nil, nil), req)
	assertValidation(t, err, ErrInvalidForm)
}

func TestParseRequest_FileOverLimit(t *testing.T) {
	p := NewPolicy(1024, nil, nil)
	_, err := parse(t, p, multipartRequest(t, nil, mp3Part(make([]byte, 4096))))
	assertValidation(t, err, ErrFileTooLarge)
}

func TestParseRequest_BodyOverCap(t *testing.T) {
	p := NewPolicy(1024, nil, nil)
	_, err := parse(t, p, multipartRequest(t, nil, mp3Part(make([]byte, 2*formOverhead))))
	assertValidation(t, err, ErrFileTooLarge)
}

func TestParseRequest_EmptyFile(t *testing.T) {
	_, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, nil, mp3Part(nil)))
	assertValidation(t, err, ErrEmptyFile)
}

func TestParseRequest_RejectsNonAudio(t *testing.T) {
	part := &filePart{field: "file", filename: "cover.png", contentType: "image/png", data: []byte("\x89PNG\r\n\x1a\n")}
	_, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, nil, part))
	assertValidation(t, err, ErrInvalidMimeType)
}

func TestParseRequest_SniffsGenericContentType(t *testing.T) {
	part := &filePart{field: "file", filename: "blob", contentType: "application/octet-stream", data: id3Tag("Sniffed", "Someone")}

	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, nil, part))
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", got.ContentType)
	assert.Equal(t, ".mp3", got.Ext)
}

func TestParseRequest_FillsTitleAndArtistFromTags(t *testing.T) {
	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, nil, mp3Part(id3Tag("Tagged Title", "Tagged Artist"))))
	require.NoError(t, err)
	assert.Equal(t, "Tagged Title", got.Title)
	assert.Equal(t, "Tagged Artist", got.Artist)
}

func TestParseRequest_FormFieldsWinOverTags(t *testing.T) {
	req := multipartRequest(t, map[string]string{"title": "Form Title"}, mp3Part(id3Tag("Tagged Title", "Tagged Artist")))

	got, err := parse(t, NewPolicy(0, nil, nil), req)
	require.NoError(t, err)
	assert.Equal(t, "Form Title", got.Title)
	assert.Equal(t, "Tagged Artist", got.Artist)
}

func TestParseRequest_Defaults(t *testing.T) {
	part := &filePart{field: "file", filename: "take1.wav", contentType: "audio/wav", data: []byte("RIFF\x00\x00\x00\x00WAVEfmt ")}

	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, map[string]string{"price": "  "}, part))
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, got.Title)
	assert.Equal(t, DefaultArtist, got.Artist)
	assert.Equal(t, DefaultSection, got.Section)
	assert.Nil(t, got.Price)
	assert.Equal(t, ".wav", got.Ext)
}

func TestParseRequest_ClientSuppliedID(t *testing.T) {
	id := uuid.NewString()
	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, map[string]string{"id": id}, mp3Part([]byte("a"))))
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.Resubmission)

	_, err = parse(t, NewPolicy(0, nil, nil), multipartRequest(t, map[string]string{"id": "../../etc/passwd"}, mp3Part([]byte("a"))))
	assertValidation(t, err, ErrInvalidID)
}

func TestParseRequest_KeepsCustomSection(t *testing.T) {
	got, err := parse(t, NewPolicy(0, nil, nil), multipartRequest(t, map[string]string{"section": " Beats "}, mp3Part([]byte("a"))))
	require.NoError(t, err)
	assert.Equal(t, "beats", got.Section)
}

func TestParseRequest_StrictSectionsRejectsUnknown(t *testing.T) {
	p := NewPolicy(0, nil, nil)
	p.StrictSections = true

	_, err := parse(t, p, multipartRequest(t, map[string]string{"section": "podcasts"}, mp3Part([]byte("a"))))
	assertValidation(t, err, ErrInvalidSection)

	got, err := parse(t, p, multipartRequest(t, map[string]string{"section": "Streams"}, mp3Part([]byte("a"))))
	require.NoError(t, err)
	assert.Equal(t, "streams", got.Section)
}

func TestParseRequest_ConfiguredSections(t *testing.T) {
	p := NewPolicy(0, nil, []string{"Podcasts"})
	p.StrictSections = true
	got, err := parse(t, p, multipartRequest(t, map[string]string{"section": "podcasts"}, mp3Part([]byte("a"))))
	require.NoError(t, err)
	assert.Equal(t, "podcasts", got.Section)
}

func TestParsePriceAmount(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"12.50", ptrFloat(12.5)},
		{"$1,200.00", ptrFloat(1200)},
		{"USD 5", ptrFloat(5)},
		{"free", nil},
		{"1.2.3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			in := tt.in
			assert.Equal(t, tt.want, parsePriceAmount(&in))
		})
	}
	assert.Nil(t, parsePriceAmount(nil))
}

func TestInferExt(t *testing.T) {
	assert.Equal(t, ".mp3", inferExt("Track.MP3", "audio/mpeg"))
	assert.Equal(t, ".wav", inferExt("noext", "audio/x-wav"))
	assert.Equal(t, ".m4a", inferExt("bad.e!t", "audio/mp4"))
	assert.Equal(t, ".bin", inferExt("", "audio/unknown"))
}

func ptrFloat(v float64) *float64 { return &v }
