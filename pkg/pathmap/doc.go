// Package pathmap translates local file identities into the paths that are
// read and the remote paths that are written.
//
// Resolution and fanout are pure: they depend only on their arguments and,
// for the compiled-output existence check, on the afero filesystem handed to
// the Mapper. Nothing here keeps process-wide state.
package pathmap
