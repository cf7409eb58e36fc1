// Package minio stores fragments on MinIO and other S3-compatible object
// stores through the native MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := minioblob.NewStore(client, "esdm", "fragments/")
//
// The backend package builds a Store from a "minio" backend entry in the
// instance configuration, so most callers never construct one directly.
package minio
