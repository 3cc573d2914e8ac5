package audio

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	"github.com/samber/lo"
)

// Supported MIME types, matched including aliases.
const (
	MIMEMP3  = "audio/mpeg"
	MIMEWAV  = "audio/wav"
	MIMEFLAC = "audio/flac"
)

// SupportedExtensions lists the file extensions the decoders understand.
var SupportedExtensions = []string{".mp3", ".wav", ".flac"}

// DetectMIME sniffs the MIME type of an audio blob.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// Supported reports whether a blob of the given MIME type can be decoded.
func Supported(mime string) bool {
	m := mimetype.Lookup(mime)
	if m == nil {
		return false
	}
	return lo.ContainsBy([]string{MIMEMP3, MIMEWAV, MIMEFLAC}, m.Is)
}

// nopCloser wraps a bytes.Reader to implement io.ReadCloser.
type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// decode picks a decoder from the sniffed type of data.
func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if len(data) == 0 {
		return nil, beep.Format{}, errors.Wrap(ErrUnsupportedFormat, "empty data")
	}

	mt := mimetype.Detect(data)
	r := bytes.NewReader(data)

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch {
	case mt.Is(MIMEMP3):
		s, format, err = mp3.Decode(nopCloser{r})
	case mt.Is(MIMEWAV):
		s, format, err = wav.Decode(r)
	case mt.Is(MIMEFLAC):
		s, format, err = flac.Decode(r)
	default:
		return nil, beep.Format{}, errors.Wrapf(ErrUnsupportedFormat, "detected %s", mt.String())
	}
	if err != nil {
		return nil, beep.Format{}, errors.Wrapf(err, "failed to decode %s", mt.String())
	}
	return s, format, nil
}

// probeDuration decodes data only to learn its length in seconds.
func probeDuration(data []byte) (float64, error) {
	s, format, err := decode(data)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return format.SampleRate.D(s.Len()).Seconds(), nil
}
