package main

import (
	"github.com/xraph/rewind"
	"github.com/xraph/rewind/store"
)

// openEngine opens the configured store and builds an engine over it for
// one-shot commands. The returned func closes the store.
func openEngine() (*rewind.Rewind, func(), error) {
	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { _ = st.Close() } //nolint:errcheck // best effort

	opts := append([]rewind.Option{
		rewind.WithStore(store.Store(st)),
		rewind.WithLogger(logger),
	}, cfg.Rewind.ToRewindOptions()...)
	rw, err := rewind.New(opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return rw, closeStore, nil
}
