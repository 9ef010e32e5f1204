package dataset

import "strings"

// ChatML delimiters used by the fine-tuning prompt template.
const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"
)

// ChatML renders r with the ChatML prompt template expected by the
// fine-tuning step:
//
//	<|im_start|>system
//	{system}<|im_end|>
//	<|im_start|>user
//	{human}<|im_end|>
//	<|im_start|>assistant
//	{assistant}<|im_end|>
func (r Record) ChatML() string {
	var sb strings.Builder
	writeBlock(&sb, "system", r.System())
	sb.WriteByte('\n')
	writeBlock(&sb, "user", r.Human())
	sb.WriteByte('\n')
	writeBlock(&sb, "assistant", r.Assistant())
	return sb.String()
}

func writeBlock(sb *strings.Builder, role, text string) {
	sb.WriteString(imStart)
	sb.WriteString(role)
	sb.WriteByte('\n')
	sb.WriteString(text)
	sb.WriteString(imEnd)
}
