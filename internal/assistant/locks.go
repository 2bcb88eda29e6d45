package assistant

import "github.com/Veraticus/chatfin/internal/common"

type keyedLocks struct {
	sessions *common.KeyedMutex
	indexes  *common.KeyedMutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		sessions: common.NewKeyedMutex(),
		indexes:  common.NewKeyedMutex(),
	}
}

func (k *keyedLocks) session(userID, sessionID string) func() {
	return k.sessions.Lock(userID + "\x00" + sessionID)
}

func (k *keyedLocks) index(userID string) func() {
	return k.indexes.Lock(userID)
}
