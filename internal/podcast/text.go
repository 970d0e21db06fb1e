package podcast

// TruncateRunes shortens s to at most n runes, appending an ellipsis when
// anything was cut. Rune-based so CJK text is never split mid-character.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// conversational Mandarin runs at roughly 4.2 characters per second
const avgCharsPerSecondChinese = 4.2

// EstimateSpeechDuration estimates the spoken duration of Chinese text in
// seconds, counting non-whitespace characters.
func EstimateSpeechDuration(text string) float64 {
	charCount := 0
	for _, char := range text {
		if char != ' ' && char != '\n' && char != '\t' && char != '\r' {
			charCount++
		}
	}
	return float64(charCount) / avgCharsPerSecondChinese
}

// EstimateDialogueDuration sums per-line speech estimates plus the configured
// pauses. Used when the stitched file cannot be probed.
func EstimateDialogueDuration(lines []DialogueLine) float64 {
	var total float64
	for _, line := range lines {
		total += EstimateSpeechDuration(line.Text)
		total += line.PauseBefore + line.PauseAfter
	}
	return total
}
