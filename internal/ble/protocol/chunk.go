package protocol

// DefaultChunkSize is the usable ATT payload of a default 23-byte BLE MTU.
// It is used without negotiating the link MTU.
const DefaultChunkSize = 20

// Split cuts data into chunks of exactly size bytes, except the last which
// holds the remainder. Chunks alias data. Returns nil for empty data or a
// non-positive size.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size:size])
		data = data[size:]
	}
	return append(chunks, data)
}

// Join concatenates chunks in order.
func Join(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	buf := make([]byte, 0, n)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf
}
