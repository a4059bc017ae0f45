package evo

import (
	"strconv"
	"strings"

	"metaflux/internal/model"
)

// VectorSignature is a compact fingerprint used to count distinct phenotypes.
func VectorSignature(vector model.DecisionVector) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', 6, 64))
	}
	return b.String()
}
