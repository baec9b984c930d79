package embedding

// Dilute splits a long token sequence into windows that each fit a
// model's sequence limit. Windows overlap by half so no boundary loses
// context, and every window is prefixed with a global sample taken as
// every k-th token of the full sequence, giving each window a coarse
// view of the whole document.
func Dilute(tokens []string, maxSeq, k int) [][]string {
	if maxSeq <= 0 {
		return nil
	}
	if len(tokens) <= maxSeq {
		if len(tokens) == 0 {
			return nil
		}
		window := make([]string, len(tokens))
		copy(window, tokens)
		return [][]string{window}
	}

	prefix := globalSample(tokens, k)
	// the prefix may take at most half a window
	if len(prefix) > maxSeq/2 {
		prefix = prefix[:maxSeq/2]
	}
	body := maxSeq - len(prefix)
	step := body / 2
	if step < 1 {
		step = 1
	}

	var windows [][]string
	for start := 0; start < len(tokens); start += step {
		end := start + body
		if end > len(tokens) {
			end = len(tokens)
		}
		window := make([]string, 0, len(prefix)+end-start)
		window = append(window, prefix...)
		window = append(window, tokens[start:end]...)
		windows = append(windows, window)
		if end == len(tokens) {
			break
		}
	}
	return windows
}

// globalSample returns every k-th token.
func globalSample(tokens []string, k int) []string {
	if k <= 1 {
		k = 16
	}
	sample := make([]string, 0, len(tokens)/k+1)
	for i := 0; i < len(tokens); i += k {
		sample = append(sample, tokens[i])
	}
	return sample
}
