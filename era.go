package cardano

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	EraByron Era = iota
	EraShelley
	EraAllegra
	EraMary
	EraAlonzo
	EraBabbage
	EraConway
)

// Era is the hard-fork-combinator era index used to tag transactions sent
// over the node-to-client protocol.
type Era uint64

func (e Era) MarshalJSON() ([]byte, error) {
	return []byte(`"` + EraStringMap[e] + `"`), nil
}

var EraStringMap = map[Era]string{
	EraByron:   "Byron",
	EraShelley: "Shelley",
	EraAllegra: "Allegra",
	EraMary:    "Mary",
	EraAlonzo:  "Alonzo",
	EraBabbage: "Babbage",
	EraConway:  "Conway",
}

func (e Era) String() string {
	if s, ok := EraStringMap[e]; ok {
		return fmt.Sprintf("%s (%d)", s, e)
	}
	return fmt.Sprintf("Unknown (%d)", e)
}

func (e Era) Valid() bool {
	return e >= EraByron && e <= EraConway
}

// SupportsScripts reports whether transactions of this era may carry plutus
// witnesses and collateral.
func (e Era) SupportsScripts() bool {
	return e >= EraAlonzo && e.Valid()
}

func ParseEra(s string) (era Era, err error) {
	for e, name := range EraStringMap {
		if strings.EqualFold(name, s) {
			return e, nil
		}
	}
	err = errors.Errorf("unknown era '%s'", s)
	return
}
