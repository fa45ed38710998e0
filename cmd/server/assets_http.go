package main

import (
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"scenesync.dev/internal/assets"
)

// assetHandler serves the content-addressed asset namespace:
//
//	PUT  /assets/{name}  store (idempotent; name embeds the content hash)
//	HEAD /assets/{name}  existence probe
//	GET  /assets/{name}  fetch
func assetHandler(store *assets.Local, maxUploadMB int, logger *log.Logger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		if name == "" || name != path.Base(name) {
			http.Error(rw, "bad asset name", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPut:
			var body = http.MaxBytesReader(rw, r.Body, int64(maxUploadMB)<<20)
			if err := store.Upload(r.Context(), name, body); err != nil {
				if errors.Is(err, assets.ErrRejected) {
					http.Error(rw, err.Error(), http.StatusBadRequest)
					return
				}
				logger.Printf("asset upload %s: %v", name, err)
				http.Error(rw, "upload failed", http.StatusInternalServerError)
				return
			}
			rw.WriteHeader(http.StatusCreated)

		case http.MethodHead:
			ok, err := store.Exists(r.Context(), name)
			if err != nil {
				http.Error(rw, "probe failed", http.StatusInternalServerError)
				return
			}
			if !ok {
				rw.WriteHeader(http.StatusNotFound)
				return
			}
			rw.WriteHeader(http.StatusOK)

		case http.MethodGet:
			http.ServeFile(rw, r, store.Path(name))

		default:
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}
