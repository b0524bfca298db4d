package script

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/phobosrover/phobosexec/command"
	"github.com/phobosrover/phobosexec/loco"
	"github.com/phobosrover/phobosexec/timing"
)

func mustParse(text string) *Interpreter {
	s, err := Parse("test.rps", strings.NewReader(text), nil)
	Expect(err).ToNot(HaveOccurred())
	return s
}

func execTimes(cmds []ScheduledCommand) []timing.ElapsedSec {
	times := make([]timing.ElapsedSec, 0, len(cmds))
	for _, c := range cmds {
		times = append(times, c.ExecTime)
	}
	return times
}

var _ = Describe("Parse", func() {
	It("should parse one command per line", func() {
		s := mustParse(`
0: {"type": "NONE"};
  1.5 : {"type": "SAFE"};
3:{"type": "UNSAFE"};
`)

		Expect(s.Total()).To(Equal(3))
		Expect(s.Duration()).To(Equal(timing.ElapsedSec(3)))
		diff := cmp.Diff([]timing.ElapsedSec{0, 1.5, 3}, execTimes(s.Pending()))
		Expect(diff).To(BeEmpty())
	})

	It("should parse commands that follow each other on one line", func() {
		s := mustParse(`0: {"type": "NONE"}; 1.5: {"type": "MNVR", ` +
			`"mnvr_id": "POINT_TURN", "rov_rate_rads_Rb": 0.2};`)

		Expect(s.Total()).To(Equal(2))
		Expect(s.Pending()[1].Payload).To(Equal(command.Payload{
			"type":             "MNVR",
			"mnvr_id":          "POINT_TURN",
			"rov_rate_rads_Rb": 0.2,
		}))
	})

	It("should ignore lines that are not commands", func() {
		s := mustParse(`
# comment line
this is not a command;
-1: {"type": "NONE"};
4: {"type": "NONE"};
6: {"type": "NONE"}`)

		Expect(execTimes(s.Pending())).To(Equal([]timing.ElapsedSec{4}))
	})

	It("should allow a payload to span lines", func() {
		s := mustParse("1: {\n  \"type\": \"NONE\"\n};\n")

		Expect(s.Pending()[0].Command).To(Equal(command.None{}))
	})

	It("should decode commands when loading", func() {
		s := mustParse(`0.5: {"type": "MNVR", "mnvr_id": "ACKERMAN", ` +
			`"rov_speed_mss_Lm": 0.1};`)

		invalid, ok := s.Pending()[0].Command.(command.Invalid)
		Expect(ok).To(BeTrue())
		Expect(invalid.Err).To(MatchError(loco.ErrMissingParam))
	})

	It("should sort commands written out of order", func() {
		s := mustParse(`
2: {"type": "SAFE"};
1: {"type": "NONE"};
2: {"type": "UNSAFE"};
`)

		pending := s.Pending()
		Expect(execTimes(pending)).To(Equal([]timing.ElapsedSec{1, 2, 2}))
		Expect(pending[1].Command).To(Equal(command.Safe{}))
		Expect(pending[2].Command).To(Equal(command.Unsafe{}))
	})

	It("should abort on a payload that is not JSON", func() {
		_, err := Parse("bad.rps", strings.NewReader(`
0: {"type": "NONE"};
2.5: {"type": NONE};
`), nil)

		Expect(err).To(MatchError(ErrInvalidCommand))

		var loadErr *LoadError
		Expect(errors.As(err, &loadErr)).To(BeTrue())
		Expect(loadErr.ExecTime).To(Equal(timing.ElapsedSec(2.5)))
		Expect(err.Error()).To(ContainSubstring("t=2.5"))
	})

	It("should report the written time when it does not fit a float", func() {
		huge := strings.Repeat("9", 400)
		_, err := Parse("bad.rps",
			strings.NewReader(huge+`: {"type": "NONE"};`), nil)

		Expect(err).To(MatchError(ErrInvalidCommand))
		Expect(err).To(MatchError(strconv.ErrRange))

		var loadErr *LoadError
		Expect(errors.As(err, &loadErr)).To(BeTrue())
		Expect(loadErr.TimeText).To(Equal(huge))
		Expect(err.Error()).To(ContainSubstring("t=" + huge))
	})

	It("should abort on a payload that is not an object", func() {
		_, err := Parse("bad.rps", strings.NewReader(`1: [1, 2];`), nil)
		Expect(err).To(MatchError(ErrInvalidCommand))
	})

	It("should abort on an empty payload", func() {
		_, err := Parse("bad.rps", strings.NewReader(`1: ;`), nil)
		Expect(err).To(MatchError(ErrInvalidCommand))
	})

	It("should load a script from a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "drive.rps")
		Expect(os.WriteFile(path, []byte(`0: {"type": "NONE"};`), 0o644)).
			To(Succeed())

		s, err := Load(path, nil)

		Expect(err).ToNot(HaveOccurred())
		Expect(s.Name()).To(Equal(path))
		Expect(s.Total()).To(Equal(1))
	})

	It("should fail to load a missing file", func() {
		_, err := Load(filepath.Join(GinkgoT().TempDir(), "none.rps"), nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("GetPending", func() {
	It("should only return commands strictly before now", func() {
		s := mustParse(`0: {"type": "NONE"}; 1.5: {"type": "SAFE"};`)

		Expect(s.GetPending(0)).To(BeEmpty())
		Expect(s.GetPending(0.01)).To(Equal([]command.Command{command.None{}}))
		Expect(s.GetPending(1.5)).To(BeEmpty())
		Expect(s.GetPending(1.51)).To(Equal([]command.Command{command.Safe{}}))
	})

	It("should return every due command of a cycle in time order", func() {
		s := mustParse(`
0.1: {"type": "SAFE"};
0.2: {"type": "UNSAFE"};
0.3: {"type": "NONE"};
5: {"type": "NONE"};
`)

		Expect(s.GetPending(1)).To(Equal([]command.Command{
			command.Safe{}, command.Unsafe{}, command.None{},
		}))
		Expect(s.NumPending()).To(Equal(1))
		Expect(execTimes(s.Executed())).To(
			Equal([]timing.ElapsedSec{0.1, 0.2, 0.3}))
	})

	It("should return nothing when polled twice at the same time", func() {
		s := mustParse(`0: {"type": "NONE"}; 3: {"type": "NONE"};`)

		Expect(s.GetPending(1)).To(HaveLen(1))
		Expect(s.GetPending(1)).To(BeEmpty())
	})

	It("should return the end marker on every poll once drained", func() {
		s := mustParse(`0: {"type": "NONE"};`)

		Expect(s.GetPending(1)).To(HaveLen(1))
		for i := 0; i < 3; i++ {
			Expect(s.GetPending(2)).To(Equal(
				[]command.Command{command.EndOfTimeline{}}))
		}
	})

	It("should end at once for an empty script", func() {
		s := mustParse("nothing to see here\n")

		Expect(s.GetPending(0)).To(Equal(
			[]command.Command{command.EndOfTimeline{}}))
	})

	It("should hand out every command exactly once, never early", func() {
		r := rand.New(rand.NewSource(7))

		var sb strings.Builder
		for i := 0; i < 200; i++ {
			sb.WriteString(strings.Repeat(" ", r.Intn(3)))
			sb.WriteString(timing.ElapsedSec(r.Float64() * 10).String())
			sb.WriteString(`: {"type": "NONE", "seq": 1};` + "\n")
		}

		s := mustParse(sb.String())
		Expect(s.Total()).To(Equal(200))
		Expect(isAscending(execTimes(s.Pending()))).To(BeTrue())

		handedOut := 0
		now := timing.ElapsedSec(0)
		for s.NumPending() > 0 {
			before := s.NumExecuted()
			cmds := s.GetPending(now)
			handedOut += len(cmds)

			executed := s.Executed()
			Expect(len(executed)).To(Equal(before + len(cmds)))
			for _, c := range executed[before:] {
				Expect(c.ExecTime).To(BeNumerically("<", now))
			}
			for _, c := range s.Pending() {
				Expect(c.ExecTime).To(BeNumerically(">=", now))
			}

			now += timing.ElapsedSec(r.Float64() * 0.05)
		}

		Expect(handedOut).To(Equal(200))
		Expect(s.GetPending(now)).To(Equal(
			[]command.Command{command.EndOfTimeline{}}))
	})
})

func isAscending(times []timing.ElapsedSec) bool {
	for i := 1; i < len(times); i++ {
		if times[i] < times[i-1] {
			return false
		}
	}
	return true
}
