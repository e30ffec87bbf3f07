// Package cache implements the content-addressed artifact store used by the
// dependency fetch stage. Artifacts live under CacheDir/<algo>/<xx>/<digest>;
// downloads land in CacheDir/tmp first and are renamed into place only after
// every declared digest has been verified, so a path handed out by the cache
// always names verified content. Concurrent requests for the same digest share
// a single download through singleflight.
package cache
