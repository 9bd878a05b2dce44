/*
Package sigv4 implements the AWS Signature Version 4 algorithm for the "s3" service.

It covers both halves of the protocol: producing signatures (header-based for PUT,
query-string based for presigned GET) and verifying them on the receiving side.

Signing is a straight pipeline:

  - EndpointPolicy validates the target URL (https only, no query/fragment, optional
    host allow-list) before any cryptographic work.
  - The canonicalizer builds `<METHOD>\n<URI>\n<QUERY>\n<HEADERS>\n<SIGNED_HEADERS>\n<PAYLOAD_HASH>`.
    Path segments and query components are percent-encoded with RFC 3986 unreserved
    characters as the only literal set.
  - DeriveSigningKey runs the HMAC-SHA256 chain
    AWS4+secret -> date -> region -> "s3" -> "aws4_request".
  - Sign hashes the canonical request into the string-to-sign and returns the
    lowercase hex HMAC.

Nothing in this package keeps state between calls.
*/
package sigv4
