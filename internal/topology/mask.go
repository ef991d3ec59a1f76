package topology

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxCPUs bounds the CPU id space a Mask can represent.
const MaxCPUs = 256

const maskWords = MaxCPUs / 64

// Mask is a fixed-size CPU bitset. It is a value type so the placement hot
// path can intersect and iterate candidate sets without heap allocation.
type Mask [maskWords]uint64

// MaskOf builds a mask from explicit CPU ids. Out-of-range ids are ignored.
func MaskOf(cpus ...int) Mask {
	var m Mask
	for _, cpu := range cpus {
		m.Set(cpu)
	}
	return m
}

func (m *Mask) Set(cpu int) {
	if cpu < 0 || cpu >= MaxCPUs {
		return
	}
	m[cpu/64] |= 1 << (uint(cpu) % 64)
}

func (m Mask) Test(cpu int) bool {
	if cpu < 0 || cpu >= MaxCPUs {
		return false
	}
	return m[cpu/64]&(1<<(uint(cpu)%64)) != 0
}

func (m Mask) And(other Mask) Mask {
	var out Mask
	for i := range m {
		out[i] = m[i] & other[i]
	}
	return out
}

func (m Mask) Empty() bool {
	for _, w := range m {
		if w != 0 {
			return false
		}
	}
	return true
}

func (m Mask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// NextSet returns the lowest set CPU id >= from, or -1 when none remain.
// Iterating with NextSet visits members in ascending id order.
func (m Mask) NextSet(from int) int {
	if from < 0 {
		from = 0
	}
	for i := from / 64; i < maskWords; i++ {
		w := m[i]
		if i == from/64 {
			w &= ^uint64(0) << (uint(from) % 64)
		}
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// String renders the mask in kernel cpulist form, e.g. "0-3,6".
func (m Mask) String() string {
	var sb strings.Builder
	start, prev := -1, -2
	flush := func() {
		if start < 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(start))
		if prev > start {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(prev))
		}
	}
	for cpu := m.NextSet(0); cpu >= 0; cpu = m.NextSet(cpu + 1) {
		if cpu != prev+1 {
			flush()
			start = cpu
		}
		prev = cpu
	}
	flush()
	return sb.String()
}
