// Package lut reads and writes the fractional-divider lookup tables used by the
// LUT actuator. Tables are generated offline; each entry is the low 16 bits of
// the fractional-n divider register, with f in bits 15..8 and p in bits 7..0.
package lut

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
)

var (
	declRegexp  = regexp.MustCompile(`frac_values_?\d*\[(\d+)\]`)
	entryRegexp = regexp.MustCompile(`^\s*(0[xX][0-9a-fA-F]+|-?\d+)\s*,?`)
)

// ParseHeader reads a table from a generated C header of the form
//
//	short frac_values_80[413] = {
//	0x0F16, // Index:   0 Fraction: 16/23 = 0.6957
//	...
//	};
//
// The number of entries must match the declared length.
func ParseHeader(r io.Reader) ([]int16, error) {
	scanner := bufio.NewScanner(r)
	declared := -1
	inTable := false
	var table []int16
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !inTable {
			if m := declRegexp.FindStringSubmatch(line); m != nil {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					return nil, fmt.Errorf("line %d: bad table length: %w", lineNum, err)
				}
				declared = n
				inTable = true
				table = make([]int16, 0, n)
			}
			continue
		}
		if strings.Contains(line, "}") {
			break
		}
		m := entryRegexp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if v < -32768 || v > 0xffff {
			return nil, fmt.Errorf("line %d: entry %d does not fit 16 bits", lineNum, v)
		}
		table = append(table, int16(uint16(v)))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if declared < 0 {
		return nil, fmt.Errorf("no frac_values table found")
	}
	if len(table) != declared {
		return nil, fmt.Errorf("table declares %d entries, found %d", declared, len(table))
	}
	return table, nil
}

// ReadNPY reads a one dimensional int16 table from numpy .npy data.
func ReadNPY(r io.Reader) ([]int16, error) {
	var table []int16
	if err := npyio.Read(r, &table); err != nil {
		return nil, fmt.Errorf("reading LUT npy: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("LUT npy holds no entries")
	}
	return table, nil
}

// WriteNPY writes table as a one dimensional int16 numpy array.
func WriteNPY(w io.Writer, table []int16) error {
	return npyio.Write(w, table)
}

// Nominal returns the middle index of table, the usual zero-error setting.
func Nominal(table []int16) int {
	return len(table) / 2
}

// Fraction returns the fractional multiplier (f+1)/(p+1) encoded by a table entry.
func Fraction(code int16) float64 {
	u := uint16(code)
	f := float64(u>>8) + 1
	p := float64(u&0xff) + 1
	return f / p
}

// Generate builds a table of every reduced fraction n/d with d <= maxDenom and
// fracMin <= n/d <= fracMax, in increasing order. Entries are encoded as
// (n-1)<<8 | (d-1).
func Generate(maxDenom int, fracMin, fracMax float64) ([]int16, error) {
	if maxDenom < 1 || maxDenom > 256 {
		return nil, fmt.Errorf("max denominator %d outside [1, 256]", maxDenom)
	}
	if fracMin > fracMax {
		return nil, fmt.Errorf("fraction range [%g, %g] is empty", fracMin, fracMax)
	}
	type fraction struct {
		value float64
		n, d  int
	}
	var fracs []fraction
	for d := 1; d <= maxDenom; d++ {
		for n := 1; n <= d; n++ {
			if gcd(n, d) != 1 {
				continue
			}
			v := float64(n) / float64(d)
			if v < fracMin || v > fracMax {
				continue
			}
			fracs = append(fracs, fraction{v, n, d})
		}
	}
	if len(fracs) == 0 {
		return nil, fmt.Errorf("no fractions with denominator <= %d in [%g, %g]", maxDenom, fracMin, fracMax)
	}
	sort.Slice(fracs, func(i, j int) bool { return fracs[i].value < fracs[j].value })

	table := make([]int16, len(fracs))
	for i, f := range fracs {
		table[i] = int16(uint16((f.n-1)<<8 | (f.d - 1)))
	}
	return table, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
