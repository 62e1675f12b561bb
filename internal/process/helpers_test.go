package process

import (
	"os"
	"strings"
)

func fileContains(path, want string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(b), want)
}
