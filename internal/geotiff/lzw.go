package geotiff

const (
	lzwClear   = 256
	lzwEOI     = 257
	lzwFirst   = 258
	lzwMinBits = 9
	lzwMaxBits = 12
	lzwMaxCode = 1<<lzwMaxBits - 1
)

// lzwEncode compresses one block the way libtiff does: MSB-first codes,
// a leading Clear, a trailing EOI, and the code width bumped one entry
// early. The table is reset with Clear when it reaches 4094 entries.
func lzwEncode(data []byte) []byte {
	w := &bitWriter{buf: make([]byte, 0, len(data)/2)}
	nbits := lzwMinBits
	maxcode := 1<<nbits - 1
	next := lzwFirst
	table := make(map[uint32]int, 1<<lzwMaxBits)

	w.put(lzwClear, nbits)
	if len(data) == 0 {
		w.put(lzwEOI, nbits)
		return w.flush()
	}

	ent := int(data[0])
	for _, c := range data[1:] {
		key := uint32(ent)<<8 | uint32(c)
		if code, ok := table[key]; ok {
			ent = code
			continue
		}
		w.put(ent, nbits)
		ent = int(c)
		table[key] = next
		next++

		if next == lzwMaxCode-1 {
			w.put(lzwClear, nbits)
			clear(table)
			next = lzwFirst
			nbits = lzwMinBits
			maxcode = 1<<nbits - 1
		} else if next > maxcode {
			nbits++
			maxcode = 1<<nbits - 1
		}
	}

	// the decoder adds one more entry when it reads the final code
	w.put(ent, nbits)
	next++
	if next == lzwMaxCode-1 {
		w.put(lzwClear, nbits)
		nbits = lzwMinBits
	} else if next > maxcode {
		nbits++
	}
	w.put(lzwEOI, nbits)
	return w.flush()
}

type bitWriter struct {
	buf []byte
	acc uint32
	n   int
}

func (w *bitWriter) put(code, nbits int) {
	w.acc = w.acc<<nbits | uint32(code)
	w.n += nbits
	for w.n >= 8 {
		w.buf = append(w.buf, byte(w.acc>>(w.n-8)))
		w.n -= 8
	}
	w.acc &= 1<<w.n - 1
}

func (w *bitWriter) flush() []byte {
	if w.n > 0 {
		w.buf = append(w.buf, byte(w.acc<<(8-w.n)))
		w.acc, w.n = 0, 0
	}
	return w.buf
}
