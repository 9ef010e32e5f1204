package paircmder

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const transcriptCSV = `speaker,episode_id,text
Morty,1,"  stumbles in. Rick! "
Rick,1,"Morty, shut up."
Summer,1,Ugh.
Rick,2,Wubba lubba dub dub.
,2,nobody said this
Summer,2,Grandpa?
Rick,2,What.
`

var _ = Describe("Pair Command", func() {
	var (
		tmpDir     string
		configPath string
		stdout     *bytes.Buffer
		stderr     *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "personaset-pair-test-*")
		Expect(err).NotTo(HaveOccurred())

		csvPath := filepath.Join(tmpDir, "transcript.csv")
		Expect(os.WriteFile(csvPath, []byte(transcriptCSV), 0o644)).To(Succeed())

		configPath = filepath.Join(tmpDir, "personaset.yaml")
		config := "log_level: error\n" +
			"persona:\n  speaker: Rick\n  system_prompt: You are Rick.\n" +
			"source:\n  kind: csv\n  path: " + csvPath + "\n" +
			"cleaner:\n  kind: identity\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o644)).To(Succeed())

		stdout = &bytes.Buffer{}
		stderr = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	execute := func(args ...string) error {
		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewPairCmd())
		root.SetOut(stdout)
		root.SetErr(stderr)
		root.SetArgs(append([]string{"pair", "--config", configPath}, args...))
		return root.Execute()
	}

	It("writes raw ShareGPT records to stdout", func() {
		Expect(execute()).To(Succeed())

		d, err := dataset.ReadJSONL(stdout, dataset.KeyConversationsRaw)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(HaveLen(2))
		Expect(d[0].System()).To(Equal("You are Rick."))
		Expect(d[0].Human()).To(Equal("stumbles in. Rick!"))
		Expect(d[0].Assistant()).To(Equal("Morty, shut up."))
		Expect(d[1].Human()).To(Equal("Grandpa?"))
		Expect(d[1].Assistant()).To(Equal("What."))

		Expect(stderr.String()).To(ContainSubstring("Paired 2 records for Rick (1 malformed lines skipped)"))
	})

	It("writes ChatML text records to a file", func() {
		out := filepath.Join(tmpDir, "chatml.jsonl")
		Expect(execute("--format", "chatml", "--out", out)).To(Succeed())
		Expect(stdout.Len()).To(BeZero())

		b, err := os.ReadFile(out)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(b)), "\n")
		Expect(lines).To(HaveLen(2))

		var row map[string]string
		Expect(json.Unmarshal([]byte(lines[0]), &row)).To(Succeed())
		Expect(row["text"]).To(Equal("<|im_start|>system\nYou are Rick.<|im_end|>\n" +
			"<|im_start|>user\nstumbles in. Rick!<|im_end|>\n" +
			"<|im_start|>assistant\nMorty, shut up.<|im_end|>"))
	})

	It("rejects unknown formats", func() {
		err := execute("--format", "alpaca")
		Expect(err).To(MatchError(ContainSubstring(`unknown format "alpaca"`)))
	})

	It("fails when the transcript is missing", func() {
		Expect(os.Remove(filepath.Join(tmpDir, "transcript.csv"))).To(Succeed())
		Expect(execute()).NotTo(Succeed())
	})
})
