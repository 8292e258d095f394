package fio

// noCopy is a type that prevents copying of values that embed it. It
// implements sync.Locker so that go vet's copylocks check reports
// improper copying, the same trick sync.WaitGroup uses.
type noCopy struct{}

// Lock is a no-op implementation of sync.Locker.Lock.
func (*noCopy) Lock() {}

// Unlock is a no-op implementation of sync.Locker.Unlock.
func (*noCopy) Unlock() {}
