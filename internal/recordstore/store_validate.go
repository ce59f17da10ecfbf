package recordstore

import (
	"encoding/json"

	"storacore/internal/kadid"
)

// validateAndStoreRegister implements the Register branch of §4.A: verify
// the owner signature over the incoming entries, merge them with any
// register already held at the key, then persist the merged form. The
// signature is not checked against the merged entry set; the merged payload
// is stored with the incoming signature, which covers only the incoming
// entries. rec.Publisher carries the owner's ed25519 public key (32 bytes,
// same width as a Key) since the RegisterAddress already folds it into the
// record's routing key.
func (s *Store) validateAndStoreRegister(rec *Record) (ValidateResult, error) {
	if rec.Publisher == nil {
		return ValidateResult{Outcome: Invalid}, nil
	}
	incoming, err := DecodeRegisterPayload(rec.Value)
	if err != nil {
		return ValidateResult{Outcome: Invalid}, nil
	}
	owner := rec.Publisher[:]
	if !verifyRegisterSignature(owner, incoming) {
		return ValidateResult{Outcome: Invalid}, nil
	}

	existingRec, err := s.Get(rec.Key)
	var existingEntries [][]byte
	if err == nil && existingRec != nil {
		existingPayload, decErr := DecodeRegisterPayload(existingRec.Value)
		if decErr == nil {
			existingEntries = existingPayload.Entries
		}
	}

	merged, changed := mergeRegisterEntries(existingEntries, incoming.Entries)
	if !changed && existingRec != nil {
		return ValidateResult{Outcome: Stored}, nil
	}

	mergedPayload := &RegisterPayload{Entries: merged, Signature: incoming.Signature}
	data, err := EncodeRegisterPayload(mergedPayload)
	if err != nil {
		return ValidateResult{Outcome: Invalid}, err
	}
	toStore := &Record{Key: rec.Key, Value: data, Publisher: rec.Publisher, Expires: rec.Expires, Kind: rec.Kind}
	if _, err := s.Put(toStore); err != nil {
		return ValidateResult{Outcome: Invalid}, err
	}
	return ValidateResult{Outcome: Stored}, nil
}

// validateAndStoreSpend implements the Spend branch of §4.A: verify
// signature, then route through the valid/poisoned state machine.
func (s *Store) validateAndStoreSpend(rec *Record) (ValidateResult, error) {
	incoming, err := DecodeSpendPayload(rec.Value)
	if err != nil {
		return ValidateResult{Outcome: Invalid}, nil
	}
	if !verifySpendSignature(incoming) {
		return ValidateResult{Outcome: Invalid}, nil
	}

	s.mu.Lock()
	entry, tracked := s.index[rec.Key]
	s.mu.Unlock()

	if tracked && entry.poisoned {
		return ValidateResult{Outcome: AlreadyPoisoned}, nil
	}

	if tracked {
		existingData, ok, err := readFile(recordPath(s.root, rec.Key))
		if err != nil {
			return ValidateResult{Outcome: Invalid}, err
		}
		if ok {
			var existingEnv envelope
			if json.Unmarshal(existingData, &existingEnv) == nil {
				existingSpend, err := DecodeSpendPayload(existingEnv.Value)
				if err == nil {
					if spendContentEqual(existingSpend, incoming) {
						return ValidateResult{Outcome: Stored}, nil
					}
					if err := s.poisonSpend(rec.Key, &existingEnv, rec); err != nil {
						return ValidateResult{Outcome: Invalid}, err
					}
					return ValidateResult{Outcome: DoubleSpendDetected, A: existingSpend.Content, B: incoming.Content}, nil
				}
			}
		}
	}

	if _, err := s.Put(rec); err != nil {
		return ValidateResult{Outcome: Invalid}, err
	}
	return ValidateResult{Outcome: Stored}, nil
}

// poisonSpend persists the conflicting pair under double_spends/ as two
// sibling files (.a the prior valid spend, .b the new one) and removes the
// single-spend file. Each file write is atomic, but the three steps are not
// one atomic unit: a crash after the .a write and before the .b write leaves
// a lone .a file, which Open indexes as poisoned and Get then reports as
// ErrNotFound; a crash before the removal leaves the single-spend file next
// to the complete pair, and the key is indexed as poisoned.
func (s *Store) poisonSpend(key kadid.Key, existingEnv *envelope, incomingRec *Record) error {
	aData, err := json.Marshal(existingEnv)
	if err != nil {
		return err
	}
	bEnv := envelope{Value: incomingRec.Value, Publisher: incomingRec.Publisher, Expires: incomingRec.Expires, Kind: uint8(incomingRec.Kind)}
	bData, err := json.Marshal(bEnv)
	if err != nil {
		return err
	}
	if err := atomicWrite(doubleSpendPath(s.root, key)+".a", aData); err != nil {
		return err
	}
	if err := atomicWrite(doubleSpendPath(s.root, key)+".b", bData); err != nil {
		return err
	}
	if err := removeFile(recordPath(s.root, key)); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.index[key]
	s.index[key] = indexEntry{kind: kadid.KindSpend, size: int64(len(aData) + len(bData)), poisoned: true}
	s.totalBytes += int64(len(aData)+len(bData)) - old.size
	s.mu.Unlock()
	return nil
}
