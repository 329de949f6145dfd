package artifact

// partRange is one planned multipart upload part. Number is 1-based,
// bytes are data[From:To].
type partRange struct {
	Number int32
	From   int64
	To     int64
}

// planParts splits total bytes into fixed-size parts. The final part
// carries the remainder. A zero-length object still yields one empty part
// so the multipart completion has something to finalize.
func planParts(total, partSize int64) []partRange {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if total <= 0 {
		return []partRange{{Number: 1, From: 0, To: 0}}
	}

	count := (total + partSize - 1) / partSize
	parts := make([]partRange, 0, count)
	for i := int64(0); i < count; i++ {
		from := i * partSize
		to := from + partSize
		if to > total {
			to = total
		}
		parts = append(parts, partRange{Number: int32(i + 1), From: from, To: to})
	}
	return parts
}
