package transcript

// Entry is a single speaker turn parsed from a raw transcript.
type Entry struct {
	Speaker   string `json:"speaker"`
	StartTime string `json:"start_time"` // HH:MM:SS
	Text      string `json:"text"`
}

// Chunk is a window of entries anchored on one or more target-speaker turns,
// submitted as one unit of extraction work.
type Chunk struct {
	Index   int     `json:"index"`
	Entries []Entry `json:"entries"`
	Text    string  `json:"text"`
}
