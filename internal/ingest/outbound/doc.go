// Package outbound holds the upload.Client implementations: a PostgREST
// (Supabase REST) client over retrying HTTP and a direct Postgres client over
// gorm. Both are built once at startup and shared by every run.
package outbound
