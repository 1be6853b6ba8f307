package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/snapread/internal/quota"
)

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		gateway     *mockGateway
		storage     *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		store = newMockStore()
		gateway = newMockGateway()
		storage = newMockStorage()
		clock := &fixedClock{now: time.Date(2026, 10, 18, 14, 5, 0, 0, time.UTC)}
		service = NewServiceWithDeps(store, gateway, storage, quota.NewTracker(store), &sequenceIDs{}, clock)
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	upload := func(filename string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return do("POST", "/api/documents", &b, writer.FormDataContentType())
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Describe("POST /api/documents", func() {
		It("captures an upload", func() {
			resp := upload("page.jpg", []byte("image bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var capture Capture
			decode(resp, &capture)
			Expect(capture.Document.ID).To(Equal("id-1"))
			Expect(capture.Document.Title).To(Equal("Book - Oct 18, 2026"))
			Expect(capture.Summary.DocumentID).To(Equal("id-1"))
		})

		It("returns payment required when the free scans are used up", func() {
			store.settings[quota.ScanCountKey] = "3"

			resp := upload("page.jpg", []byte("image bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusPaymentRequired))
		})

		It("returns bad gateway when analysis fails", func() {
			gateway.analyzeErr = errors.New("model down")

			resp := upload("page.jpg", []byte("image bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})

		It("rejects a request without a file", func() {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			Expect(writer.WriteField("note", "hi")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp := do("POST", "/api/documents", &b, writer.FormDataContentType())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an empty file", func() {
			resp := upload("page.jpg", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a non-multipart body", func() {
			resp := do("POST", "/api/documents", strings.NewReader("{}"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("document reads", func() {
		BeforeEach(func() {
			_, err := service.Capture(context.Background(), "page.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("lists documents", func() {
			resp := do("GET", "/api/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var docs []*Document
			decode(resp, &docs)
			Expect(documentIDs(docs)).To(Equal([]string{"id-1"}))
		})

		It("gets a document", func() {
			resp := do("GET", "/api/documents/id-1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var doc Document
			decode(resp, &doc)
			Expect(doc.ImageURI).To(Equal("id-1_page.png"))
		})

		It("returns not found for an unknown document", func() {
			resp := do("GET", "/api/documents/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("serves the image", func() {
			resp := do("GET", "/api/documents/id-1/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal([]byte("png bytes")))
		})

		It("returns not found for an unknown document's image", func() {
			resp := do("GET", "/api/documents/missing/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns not found when the image file is gone", func() {
			delete(storage.files, "id-1_page.png")
			resp := do("GET", "/api/documents/id-1/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("returns a server error when the image lookup fails in the store", func() {
			store.getErr = ErrStorage
			resp := do("GET", "/api/documents/id-1/image", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})

		It("gets the summary", func() {
			resp := do("GET", "/api/documents/id-1/summary", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var summary Summary
			decode(resp, &summary)
			Expect(summary.Text).To(Equal("A story begins."))
		})

		It("lists summaries", func() {
			resp := do("GET", "/api/summaries", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var summaries []*Summary
			decode(resp, &summaries)
			Expect(summaryIDs(summaries)).To(Equal([]string{"id-2"}))
		})

		It("returns a server error when the store fails", func() {
			store.listErr = ErrStorage
			resp := do("GET", "/api/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("DELETE /api/documents/{id}", func() {
		It("deletes the document", func() {
			_, err := service.Capture(context.Background(), "page.jpg", []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			resp := do("DELETE", "/api/documents/id-1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.documents).To(BeEmpty())
		})

		It("succeeds for an unknown document", func() {
			resp := do("DELETE", "/api/documents/missing", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})
	})

	Describe("POST /api/documents/{id}/feedback", func() {
		BeforeEach(func() {
			_, err := service.Capture(context.Background(), "page.jpg", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts a verdict", func() {
			resp := do("POST", "/api/documents/id-1/feedback", strings.NewReader(`{"feedback":"like","tags":["classic"]}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("rejects an unknown verdict", func() {
			resp := do("POST", "/api/documents/id-1/feedback", strings.NewReader(`{"feedback":"meh"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns not found for an unknown document", func() {
			resp := do("POST", "/api/documents/missing/feedback", strings.NewReader(`{"feedback":"like"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("export, import and clear", func() {
		It("round-trips the history", func() {
			_, err := service.Capture(context.Background(), "page.jpg", []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			resp := do("GET", "/api/export", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("snapread-export.json"))
			exported, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())

			resp = do("DELETE", "/api/data", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.documents).To(BeEmpty())

			resp = do("POST", "/api/import", bytes.NewReader(exported), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.documents).To(HaveKey("id-1"))
		})

		It("rejects a snapshot with a dangling summary", func() {
			body := `{"documents":[],"summaries":[{"id":"s","document_id":"ghost","created_at":"2026-10-18T00:00:00Z"}]}`
			resp := do("POST", "/api/import", strings.NewReader(body), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects malformed JSON", func() {
			resp := do("POST", "/api/import", strings.NewReader("not json"), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("quota and subscription", func() {
		It("reports the quota", func() {
			store.settings[quota.ScanCountKey] = "1"

			resp := do("GET", "/api/quota", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var status quota.Status
			decode(resp, &status)
			Expect(status).To(Equal(quota.Status{ScanCount: 1, RemainingFreeScans: 2}))
		})

		It("updates the subscription", func() {
			resp := do("PUT", "/api/subscription", strings.NewReader(`{"subscribed":true}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var status quota.Status
			decode(resp, &status)
			Expect(status.IsSubscribed).To(BeTrue())
			Expect(store.settings).To(HaveKeyWithValue(quota.SubscribedKey, "true"))
		})

		It("requires the subscribed field", func() {
			resp := do("PUT", "/api/subscription", strings.NewReader(`{}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do("OPTIONS", "/api/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("sets headers on regular responses", func() {
			resp := do("GET", "/api/documents", nil, "")
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "reader", Password: "secret"}
			setupServer()
		})

		It("accepts valid credentials", func() {
			resp := do("GET", "/api/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects wrong credentials", func() {
			auth.Password = "wrong"
			resp := do("GET", "/api/documents", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("SnapRead"))
		})

		It("rejects missing credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/documents", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	It("rejects unsupported methods", func() {
		resp := do("PUT", "/api/documents", nil, "")
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
	})
})
