package burnin

import (
	"fmt"
	"strings"

	"github.com/ilyanovopashin/whisper-gui/internal/job"
	"github.com/ilyanovopashin/whisper-gui/internal/transcribe"
)

const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,28,%s,&H00FFFFFF&,&H00000000&,&H64000000&,0,0,0,0,100,100,0,0,1,2,1,2,30,30,20,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// buildASS renders segments into an ASS subtitle script. With highlighting
// enabled and word timings available, each line carries karaoke timing so
// the active word switches to the highlight color as playback advances.
func buildASS(segments []transcribe.Segment, style job.HighlightStyle) string {
	var b strings.Builder

	primary := "&H00FFFFFF&"
	if style.Enabled {
		primary = assColor(style.Color)
	}
	fmt.Fprintf(&b, assHeader, primary)

	for _, seg := range segments {
		text := dialogueText(seg, style)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assTimestamp(seg.Start), assTimestamp(seg.End), text)
	}
	return b.String()
}

func dialogueText(seg transcribe.Segment, style job.HighlightStyle) string {
	plain := strings.TrimSpace(seg.Text)
	if !style.Enabled || len(seg.Words) == 0 {
		return plain
	}

	var b strings.Builder

	// Silent lead before the first word keeps the karaoke clock aligned
	// with the word timings; the offset advances or retards the window.
	lead := seg.Words[0].Start + style.OffsetSeconds - seg.Start
	if lead > 0 {
		fmt.Fprintf(&b, "{\\k%d}", centiseconds(lead))
	}

	for i, w := range seg.Words {
		// Padding absorbs small alignment error by letting a word stay
		// highlighted slightly past its detected end.
		dur := w.End - w.Start + style.PaddingSeconds
		if i+1 < len(seg.Words) {
			gap := seg.Words[i+1].Start - w.End
			if gap > 0 && style.PaddingSeconds > gap {
				dur = w.End - w.Start + gap
			}
		}
		if dur < 0.01 {
			dur = 0.01
		}
		fmt.Fprintf(&b, "{\\k%d}%s", centiseconds(dur), escapeASS(w.Text))
		if i+1 < len(seg.Words) {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// assColor converts "#RRGGBB" into ASS &HAABBGGRR& form.
func assColor(hex string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return "&H0000D7FF&" // gold fallback
	}
	rr, gg, bb := hex[0:2], hex[2:4], hex[4:6]
	return fmt.Sprintf("&H00%s%s%s&", strings.ToUpper(bb), strings.ToUpper(gg), strings.ToUpper(rr))
}

// assTimestamp renders seconds as H:MM:SS.cc.
func assTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	cs := int64(seconds*100 + 0.5)
	h := cs / 360_000
	cs -= h * 360_000
	m := cs / 6000
	cs -= m * 6000
	s := cs / 100
	cs -= s * 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

func centiseconds(seconds float64) int {
	cs := int(seconds*100 + 0.5)
	if cs < 1 {
		cs = 1
	}
	return cs
}

func escapeASS(text string) string {
	text = strings.ReplaceAll(text, "{", "(")
	text = strings.ReplaceAll(text, "}", ")")
	return strings.ReplaceAll(text, "\n", "\\N")
}
