// Package farcall lets one realm call functions and objects that live in
// another realm over any message transport.
//
// A provider exposes a target on a multiplexed channel:
//
//	root := mux.Multiplex(t)
//	farcall.Provide(service, root, farcall.ProvideOptions{})
//
// and the peer drives it through a handle builder:
//
//	api := farcall.Consume(mux.Multiplex(peer), farcall.ConsumeOptions{})
//	v, err := api.Get("Add").Call(ctx, 5, 3)
//	sum, err := farcall.As[int](v)
//
// Arguments and results that are plain data travel by copy. Functions,
// pointers to structs with methods and cyclic values travel as live
// references on their own sub-channel, so callbacks and returned objects can
// be driven the same way. Providers drop references once every peer handle
// has been released or collected.
package farcall
