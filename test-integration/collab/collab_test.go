package integration

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/notes-collab-server/internal/collab"
	"github.com/stacklok/notes-collab-server/internal/store"
	"github.com/stacklok/notes-collab-server/test-integration/collab/helpers"
)

const seed = `
notes:
  - id: plan
    owner: alice
shares:
  - note: plan
    user: bob
    permission: write
  - note: plan
    user: carol
    permission: read
`

func change(noteID, content string) map[string]any {
	return map[string]any{
		"noteId":    noteID,
		"content":   content,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

var _ = Describe("Realtime collaboration", Label("collab"), func() {
	var (
		server *helpers.ServerTestHelper
		dir    string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		server = helpers.NewServerTestHelper(ctx, dir)
		Expect(server.StartServer(seed)).To(Succeed())
	})

	AfterEach(func() {
		Expect(server.StopServer()).To(Succeed())
	})

	dial := func(user string) *helpers.Client {
		c, resp, err := helpers.Dial(server.WebsocketURL(), server.Token(user, user+" name"))
		Expect(err).NotTo(HaveOccurred())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		DeferCleanup(c.Close)
		return c
	}

	Context("handshake", func() {
		It("refuses upgrades without a valid token", func() {
			_, resp, err := helpers.Dial(server.WebsocketURL(), "")
			Expect(err).To(HaveOccurred())
			Expect(resp).NotTo(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bearer"))

			_, resp, err = helpers.Dial(server.WebsocketURL(), "not-a-jwt")
			Expect(err).To(HaveOccurred())
			Expect(resp).NotTo(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring(`error="invalid_token"`))
		})

		It("serves health without authentication", func() {
			resp, err := server.Get("/health", "")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("presence and content", func() {
		It("announces joins, relays edits and enforces write access", func() {
			alice := dial("alice")
			alice.Join("plan")
			var present []collab.Participant
			helpers.Decode(alice.Expect(collab.EventActiveUsers), &present)
			Expect(present).To(BeEmpty())

			bob := dial("bob")
			bob.Join("plan")
			helpers.Decode(bob.Expect(collab.EventActiveUsers), &present)
			Expect(present).To(HaveLen(1))
			Expect(present[0].UserID).To(Equal("alice"))

			var joined collab.Participant
			helpers.Decode(alice.Expect(collab.EventUserJoined), &joined)
			Expect(joined.UserID).To(Equal("bob"))
			Expect(joined.Email).To(Equal("bob@example.com"))

			By("relaying a write-share edit to everyone else")
			bob.Send(collab.EventNoteChange, change("plan", "hello"))
			var changed collab.NoteChanged
			helpers.Decode(alice.Expect(collab.EventNoteChange), &changed)
			Expect(changed.Content).To(Equal("hello"))
			Expect(changed.UserID).To(Equal("bob"))

			By("refusing an edit from a read-only share")
			carol := dial("carol")
			carol.Join("plan")
			carol.Expect(collab.EventActiveUsers)
			alice.Expect(collab.EventUserJoined)
			bob.Expect(collab.EventUserJoined)

			carol.Send(collab.EventNoteChange, change("plan", "vandalism"))
			var refused collab.ErrorEvent
			helpers.Decode(carol.Expect(collab.EventError), &refused)
			Expect(refused.Message).To(Equal("you do not have write access to this note"))

			By("reporting presence over REST")
			resp, err := server.Get("/api/v1/notes/plan/participants", server.Token("carol", "Carol"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body struct {
				Participants []collab.Participant `json:"participants"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body.Participants).To(HaveLen(3))

			alice.ExpectSilence(300 * time.Millisecond)
		})

		It("refuses joins without a share", func() {
			mallory := dial("mallory")
			mallory.Join("plan")
			var refused collab.ErrorEvent
			helpers.Decode(mallory.Expect(collab.EventError), &refused)
			Expect(refused.Message).To(Equal("access denied"))

			resp, err := server.Get("/api/v1/notes/plan/participants", server.Token("mallory", "Mallory"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("applies a revoked share on the next edit", func() {
			alice := dial("alice")
			alice.Join("plan")
			alice.Expect(collab.EventActiveUsers)

			bob := dial("bob")
			bob.Join("plan")
			bob.Expect(collab.EventActiveUsers)
			alice.Expect(collab.EventUserJoined)

			server.MemoryStore().Revoke("plan", "bob")
			Expect(server.MemoryStore().Share("plan", "bob", store.PermissionRead)).To(Succeed())

			bob.Send(collab.EventNoteChange, change("plan", "too late"))
			var refused collab.ErrorEvent
			helpers.Decode(bob.Expect(collab.EventError), &refused)
			Expect(refused.Message).To(Equal("you do not have write access to this note"))

			alice.ExpectSilence(300 * time.Millisecond)
		})
	})

	Context("connections", func() {
		It("keeps a user present until the last tab closes", func() {
			alice := dial("alice")
			alice.Join("plan")
			alice.Expect(collab.EventActiveUsers)

			bobTab1 := dial("bob")
			bobTab1.Join("plan")
			bobTab1.Expect(collab.EventActiveUsers)
			alice.Expect(collab.EventUserJoined)

			bobTab2 := dial("bob")
			bobTab2.Join("plan")
			bobTab2.Expect(collab.EventActiveUsers)

			bobTab1.Close()
			Consistently(func() int {
				resp, err := server.Get("/api/v1/notes/plan/participants", server.Token("alice", "Alice"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var body struct {
					Participants []collab.Participant `json:"participants"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				return len(body.Participants)
			}, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(2))

			bobTab2.Close()
			var left collab.UserLeft
			helpers.Decode(alice.Expect(collab.EventUserLeft), &left)
			Expect(left.UserID).To(Equal("bob"))
		})

		It("closes live sockets with going-away on shutdown", func() {
			alice := dial("alice")
			alice.Join("plan")
			alice.Expect(collab.EventActiveUsers)

			Expect(server.StopServer()).To(Succeed())

			_, err := alice.Receive(5 * time.Second)
			Expect(websocket.IsCloseError(err, websocket.CloseGoingAway)).To(BeTrue(), "got %v", err)
		})
	})
})
