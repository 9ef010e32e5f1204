package cleancmder

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/internal/cleaning"
	"github.com/MrWong99/personaset/pkg/dataset"
)

var stageDirection = regexp.MustCompile(`^[a-z ]+\.\s*`)

// fakeOpenAI answers chat completions by stripping a leading stage
// direction from the user message. Messages containing FAIL get a 400.
func fakeOpenAI() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &req)
		user := req.Messages[len(req.Messages)-1].Content

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(user, "FAIL") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error": {"message": "rejected", "type": "invalid_request_error"}}`)
			return
		}
		reply, _ := json.Marshal(stageDirection.ReplaceAllString(user, ""))
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": `+string(reply)+`}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 2, "total_tokens": 14}
		}`)
	}))
}

var _ = Describe("Clean Command", func() {
	var (
		tmpDir  string
		inPath  string
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		openAPI *httptest.Server
	)

	raw := dataset.Dataset{
		dataset.NewRecord("You are Rick.", "stumbles in. Rick!", "Morty, shut up."),
		dataset.NewRecord("You are Rick.", "Grandpa?", "burps. FAIL to answer"),
		dataset.NewRecord("You are Rick.", "Hey.", "What."),
	}

	writeConfig := func(cleaner string) string {
		path := filepath.Join(tmpDir, "personaset.yaml")
		config := "log_level: error\n" +
			"persona:\n  speaker: Rick\n  system_prompt: You are Rick.\n" +
			"source:\n  kind: csv\n  path: unused.csv\n" +
			"cleaner:\n" + cleaner
		Expect(os.WriteFile(path, []byte(config), 0o644)).To(Succeed())
		return path
	}

	llmConfig := func() string {
		return writeConfig("  kind: llm\n" +
			"  provider:\n    name: openai\n    api_key: sk-test\n    model: gpt-4o-mini\n    base_url: " + openAPI.URL + "/v1/\n" +
			"  retry:\n    max_attempts: 1\n")
	}

	execute := func(configPath string, args ...string) error {
		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewCleanCmd())
		root.SetOut(stdout)
		root.SetErr(stderr)
		root.SetArgs(append([]string{"clean", "--config", configPath}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "personaset-clean-test-*")
		Expect(err).NotTo(HaveOccurred())

		inPath = filepath.Join(tmpDir, "raw.jsonl")
		f, err := os.Create(inPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(dataset.WriteJSONL(f, dataset.KeyConversationsRaw, raw)).To(Succeed())
		Expect(f.Close()).To(Succeed())

		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
		openAPI = fakeOpenAI()
	})

	AfterEach(func() {
		openAPI.Close()
		os.RemoveAll(tmpDir)
	})

	It("cleans records read from stdin with the pattern cleaner", func() {
		config := writeConfig("  kind: pattern\n")
		in, err := os.Open(inPath)
		Expect(err).NotTo(HaveOccurred())
		defer in.Close()

		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewCleanCmd())
		root.SetIn(in)
		root.SetOut(stdout)
		root.SetErr(stderr)
		root.SetArgs([]string{"clean", "--config", config})
		Expect(root.Execute()).To(Succeed())

		d, err := dataset.ReadJSONL(stdout, dataset.KeyConversations)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(HaveLen(3))
		Expect(d[0].System()).To(Equal("You are Rick."))
		Expect(d[0].Human()).To(Equal("Rick!"))
		Expect(d[0].Assistant()).To(Equal("Morty, shut up."))
		Expect(d[1].Assistant()).To(Equal("FAIL to answer"))
		Expect(stderr.String()).To(ContainSubstring("Cleaned 3 of 3 records (0 failed)"))
	})

	It("writes nothing when a record fails", func() {
		out := filepath.Join(tmpDir, "clean.jsonl")
		failures := filepath.Join(tmpDir, "failures.jsonl")

		err := execute(llmConfig(), "--in", inPath, "--out", out, "--failures", failures)

		var incomplete *cleaning.IncompleteError
		Expect(errors.As(err, &incomplete)).To(BeTrue())
		Expect(incomplete.Total).To(Equal(3))
		Expect(out).NotTo(BeAnExistingFile())

		b, err := os.ReadFile(failures)
		Expect(err).NotTo(HaveOccurred())
		var row failureRow
		Expect(json.Unmarshal(bytes.TrimSpace(b), &row)).To(Succeed())
		Expect(row.Index).To(Equal(1))
		Expect(row.Turn).To(Equal(string(dataset.RoleAssistant)))
		Expect(row.Error).NotTo(BeEmpty())
	})

	It("writes the cleaned subset with --allow-partial", func() {
		out := filepath.Join(tmpDir, "clean.jsonl")

		Expect(execute(llmConfig(), "--in", inPath, "--out", out, "--allow-partial", "--retry-passes", "0")).To(Succeed())

		f, err := os.Open(out)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		d, err := dataset.ReadJSONL(f, dataset.KeyConversations)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(HaveLen(2))
		Expect(d[0].Human()).To(Equal("Rick!"))
		Expect(d[1].Human()).To(Equal("Hey."))
		Expect(stderr.String()).To(ContainSubstring("Cleaned 2 of 3 records (1 failed)"))
	})
})
