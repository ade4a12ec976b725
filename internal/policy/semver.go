package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/linnemanlabs/warden/internal/fault"
)

// semver is the parsed form of a policy version number.
type semver struct {
	major, minor, patch int
}

func (v semver) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

// bump returns the next version: a breaking change bumps major and resets
// the rest, otherwise minor is bumped.
func (v semver) bump(breaking bool) semver {
	if breaking {
		return semver{major: v.major + 1}
	}
	return semver{major: v.major, minor: v.minor + 1}
}

func parseSemver(s string) (semver, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return semver{}, fault.New(fault.KindValidation, "policy: malformed version %q", s)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return semver{}, fault.New(fault.KindValidation, "policy: malformed version %q", s)
		}
		out[i] = n
	}
	return semver{major: out[0], minor: out[1], patch: out[2]}, nil
}
