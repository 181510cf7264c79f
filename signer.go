package cardano

import (
	"bytes"
	"crypto/ed25519"
	"sort"

	"github.com/pkg/errors"
)

// Sign produces one vkey witness per distinct key over the transaction id,
// ordered by verification key.
func Sign(tx *Transaction, keys ...*SigningKey) (witnesses []VKeyWitness, err error) {
	id, err := tx.Id()
	if err != nil {
		return
	}

	for _, key := range uniqueSigners(keys) {
		sig, err2 := key.Sign(id[:])
		if err2 != nil {
			return nil, errors.Wrapf(err2, "failed to sign with %s", key.KeyHash())
		}
		witnesses = append(witnesses, VKeyWitness{
			VKey:      key.VerificationKey(),
			Signature: sig,
		})
	}
	sortWitnesses(witnesses)
	return
}

// SignTransaction merges the witnesses of keys into tx. Keys that already
// witnessed the transaction are skipped.
func SignTransaction(tx *Transaction, keys ...*SigningKey) (err error) {
	witnesses, err := Sign(tx, keys...)
	if err != nil {
		return
	}
	for _, w := range witnesses {
		if !tx.HasWitness(w.KeyHash()) {
			tx.Witnesses.VKeyWitnesses = append(tx.Witnesses.VKeyWitnesses, w)
		}
	}
	sortWitnesses(tx.Witnesses.VKeyWitnesses)
	return
}

func sortWitnesses(witnesses []VKeyWitness) {
	sort.Slice(witnesses, func(i, j int) bool {
		return bytes.Compare(witnesses[i].VKey, witnesses[j].VKey) < 0
	})
}

func (t *Transaction) HasWitness(keyHash KeyHash) bool {
	for _, w := range t.Witnesses.VKeyWitnesses {
		if w.KeyHash() == keyHash {
			return true
		}
	}
	return false
}

// Signers lists the key hashes of every vkey witness.
func (t *Transaction) Signers() (hashes []KeyHash) {
	for _, w := range t.Witnesses.VKeyWitnesses {
		hashes = append(hashes, w.KeyHash())
	}
	return
}

// VerifyWitnesses checks every signature against the transaction id and that
// each declared required signer has witnessed it.
func (t *Transaction) VerifyWitnesses() (err error) {
	id, err := t.Id()
	if err != nil {
		return
	}

	for i, w := range t.Witnesses.VKeyWitnesses {
		if len(w.VKey) != ed25519.PublicKeySize {
			return errors.Errorf("witness %d has a %d byte key", i, len(w.VKey))
		}
		if !ed25519.Verify(w.VKey, id[:], w.Signature) {
			return errors.Errorf("witness %d from %s does not verify", i, w.KeyHash())
		}
	}

	for _, required := range t.Body.RequiredSigners {
		if !t.HasWitness(required) {
			return errors.Wrapf(ErrMissingRequiredSigner, "%s has not signed", required)
		}
	}
	return
}
