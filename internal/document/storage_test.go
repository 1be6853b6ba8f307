package document

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "images"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		Expect(filepath.Join(tmpDir, "images")).To(BeADirectory())
	})

	Describe("Save", func() {
		It("writes the file and returns its reference", func() {
			ref, err := storage.Save("abc_page.jpg", []byte("jpeg bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).To(Equal("abc_page.jpg"))
			Expect(filepath.Join(tmpDir, "images", "abc_page.jpg")).To(BeAnExistingFile())
		})

		DescribeTable("rejects references that escape the directory",
			func(ref string) {
				_, err := storage.Save(ref, []byte("x"))
				Expect(err).To(MatchError(ContainSubstring("invalid image reference")))
			},
			Entry("parent traversal", "../escape.jpg"),
			Entry("nested path", "nested/page.jpg"),
			Entry("empty name", ""),
		)
	})

	Describe("Get", func() {
		It("reads back saved bytes", func() {
			_, err := storage.Save("page.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("page.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png bytes")))
		})

		It("fails for a missing file", func() {
			_, err := storage.Get("missing.png")
			Expect(err).To(MatchError(os.ErrNotExist))
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			_, err := storage.Save("page.png", []byte("png bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete("page.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "images", "page.png")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing file", func() {
			Expect(storage.Delete("missing.png")).To(MatchError(os.ErrNotExist))
		})
	})
})
