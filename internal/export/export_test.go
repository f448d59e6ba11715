package export

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/transcribe"
)

func TestTimestampFormat(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatTimestamp(0, ','))
	assert.Equal(t, "00:00:01,200", FormatTimestamp(1.2, ','))
	assert.Equal(t, "00:01:02.500", FormatTimestamp(62.5, '.'))
	assert.Equal(t, "01:00:00,001", FormatTimestamp(3600.0005, ','))
	assert.Equal(t, "10:17:36,789", FormatTimestamp(37056.789, ','))
}

func TestParseTimestamp(t *testing.T) {
	for _, stamp := range []string{"00:00:01,200", "00:00:01.200"} {
		got, err := ParseTimestamp(stamp)
		require.NoError(t, err)
		assert.InDelta(t, 1.2, got, 0.0005)
	}

	_, err := ParseTimestamp("12:34")
	assert.Error(t, err)
	_, err = ParseTimestamp("aa:bb:cc,ddd")
	assert.Error(t, err)
}

// Feeding a fixed segment list through the encoder and parsing the stamps
// back must reproduce the original values within one millisecond.
func TestSRTVTTRoundTrip(t *testing.T) {
	segments := []transcribe.Segment{
		{Start: 0.0, End: 1.2, Text: "hello"},
		{Start: 1.2, End: 2.5, Text: "world"},
	}

	checkStamps := func(t *testing.T, raw, sep string) {
		t.Helper()
		var got [][2]float64
		sc := bufio.NewScanner(strings.NewReader(raw))
		for sc.Scan() {
			line := sc.Text()
			if !strings.Contains(line, " --> ") {
				continue
			}
			parts := strings.Split(line, " --> ")
			require.Len(t, parts, 2)
			start, err := ParseTimestamp(parts[0])
			require.NoError(t, err)
			end, err := ParseTimestamp(parts[1])
			require.NoError(t, err)
			got = append(got, [2]float64{start, end})
		}
		require.Len(t, got, len(segments))
		for i, seg := range segments {
			assert.LessOrEqual(t, math.Abs(got[i][0]-seg.Start), 0.001)
			assert.LessOrEqual(t, math.Abs(got[i][1]-seg.End), 0.001)
		}
		assert.Contains(t, raw, sep)
	}

	var srt bytes.Buffer
	require.NoError(t, WriteSRT(&srt, segments))
	checkStamps(t, srt.String(), ",")
	assert.True(t, strings.HasPrefix(srt.String(), "1\n"), "srt cues are numbered from 1")
	assert.Contains(t, srt.String(), "hello")

	var vtt bytes.Buffer
	require.NoError(t, WriteVTT(&vtt, segments))
	checkStamps(t, vtt.String(), ".")
	assert.True(t, strings.HasPrefix(vtt.String(), "WEBVTT\n\n"))
}

func TestCueSpeakerPrefix(t *testing.T) {
	segments := []transcribe.Segment{
		{Start: 0, End: 1, Text: " hello ", Speaker: "SPEAKER_00"},
		{Start: 1, End: 2, Text: "world"},
	}

	var srt bytes.Buffer
	require.NoError(t, WriteSRT(&srt, segments))
	assert.Contains(t, srt.String(), "[SPEAKER_00] hello\n")
	assert.Contains(t, srt.String(), "\nworld\n")
}

func TestValidateRejectsInconsistentSegments(t *testing.T) {
	var exportErr *ExportError

	err := Validate([]transcribe.Segment{{Start: 2, End: 1, Text: "backwards"}})
	require.ErrorAs(t, err, &exportErr)

	err = Validate([]transcribe.Segment{
		{Start: 5, End: 6, Text: "a"},
		{Start: 1, End: 2, Text: "b"},
	})
	require.ErrorAs(t, err, &exportErr)

	err = Validate([]transcribe.Segment{{Start: -1, End: 2, Text: "negative"}})
	require.ErrorAs(t, err, &exportErr)

	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]transcribe.Segment{
		{Start: 0, End: 1.2, Text: "hello"},
		{Start: 1.2, End: 2.5, Text: "world"},
	}))
}

func TestWriteAllAndReadDocument(t *testing.T) {
	dir := t.TempDir()
	doc := Document{
		DurationSeconds: 2.5,
		Diarization:     false,
		Highlight:       job.HighlightStyle{Enabled: true, Color: "#FFD700"},
		Segments: []transcribe.Segment{
			{Start: 0, End: 1.2, Text: "hello", Words: []transcribe.Word{{Start: 0, End: 1.1, Text: "hello"}}},
			{Start: 1.2, End: 2.5, Text: "world"},
		},
	}

	artifacts, err := WriteAll(dir, doc)
	require.NoError(t, err)

	for _, path := range []string{artifacts.SRT, artifacts.VTT, artifacts.JSON} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	loaded, err := ReadDocument(artifacts.JSON)
	require.NoError(t, err)
	assert.Equal(t, doc.DurationSeconds, loaded.DurationSeconds)
	assert.Equal(t, doc.Highlight, loaded.Highlight)
	require.Len(t, loaded.Segments, 2)
	assert.Equal(t, "hello", loaded.Segments[0].Text)
	require.Len(t, loaded.Segments[0].Words, 1)

	// Invalid segments never touch the disk.
	_, err = WriteAll(dir, Document{Segments: []transcribe.Segment{{Start: 2, End: 1}}})
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
}
