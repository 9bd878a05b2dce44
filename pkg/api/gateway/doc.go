// Package gateway exposes an HTTP front end for signed object uploads and
// presigned downloads against one configured bucket.
//
//	PUT /objects/{key...}             upload the request body, 200 {"bucket","key","size"}
//	GET /presign/{key...}?expires=N   200 {"url","expiresAt"}
//
// Errors are JSON {"error","code","requestId"}; upstream store failures are
// reported as 502 with the store's status and error code.
package gateway
