package archive

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/archive-import/model"
)

const plainEML = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Cc: carol@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Date: Wed, 04 Mar 2015 10:30:00 +0000\r\n" +
	"Status: RO\r\n" +
	"X-Status: AF\r\n" +
	"\r\n" +
	"plain body\r\n"

const exchangeEML = "From: John Doe <jdoe@old.example>\r\n" +
	"X-Sender-Address-Type: EX\r\n" +
	"X-Sender-Address: /O=ACME/OU=EXCHANGE/CN=RECIPIENTS/CN=JDOE\r\n" +
	"Subject: Report\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--XYZ--\r\n"

const twoMessageMbox = "From alice@example.com Wed Mar  4 10:30:00 2015\n" +
	"From: alice@example.com\n" +
	"Subject: first\n" +
	"\n" +
	"one\n" +
	"\n" +
	"From bob@example.com Wed Mar  4 11:30:00 2015\n" +
	"From: bob@example.com\n" +
	"Subject: second\n" +
	"\n" +
	"two\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildArchive(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Inbox", "a.eml"), plainEML)
	writeFile(t, filepath.Join(root, "Inbox", "b.eml"), exchangeEML)
	writeFile(t, filepath.Join(root, "Inbox", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "Inbox", "Projects", "list.mbox"), twoMessageMbox)
	writeFile(t, filepath.Join(root, "Contacts", "bob.vcf"), "BEGIN:VCARD\nEND:VCARD\n")
	writeFile(t, filepath.Join(root, "meeting.ics"), "BEGIN:VCALENDAR\nEND:VCALENDAR\n")
	return root
}

func subfolder(t *testing.T, f Folder, name string) Folder {
	t.Helper()
	children, err := f.Subfolders()
	require.NoError(t, err)
	for _, c := range children {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("subfolder %q not found", name)
	return nil
}

func drain(t *testing.T, f Folder) []*model.Item {
	t.Helper()
	var items []*model.Item
	for {
		item, err := f.NextItem()
		require.NoError(t, err)
		if item == nil {
			return items
		}
		items = append(items, item)
	}
}

func TestOpenRootFolder(t *testing.T) {
	root, err := NewReader(nil).Open(buildArchive(t))
	require.NoError(t, err)

	assert.Equal(t, "", root.Name())
	assert.True(t, root.HasSubfolders())
	assert.Equal(t, 1, root.ContentCount())

	children, err := root.Subfolders()
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "Contacts", children[0].Name())
	assert.Equal(t, "Inbox", children[1].Name())
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.eml")
	writeFile(t, path, plainEML)

	_, err := NewReader(nil).Open(path)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = NewReader(nil).Open("  ")
	assert.Error(t, err)
}

func TestFolderItemsInNameOrder(t *testing.T) {
	root, err := NewReader(nil).Open(buildArchive(t))
	require.NoError(t, err)

	inbox := subfolder(t, root, "Inbox")
	assert.Equal(t, 2, inbox.ContentCount())
	assert.True(t, inbox.HasSubfolders())

	items := drain(t, inbox)
	require.Len(t, items, 2)
	assert.Equal(t, "a.eml", items[0].Name)
	assert.Equal(t, "b.eml", items[1].Name)
	assert.Equal(t, ItemID("Inbox/a.eml", 0), items[0].ID)
	assert.Equal(t, model.KindMail, items[0].Kind)
}

func TestMboxFolderYieldsEachMessage(t *testing.T) {
	root, err := NewReader(nil).Open(buildArchive(t))
	require.NoError(t, err)

	projects := subfolder(t, subfolder(t, root, "Inbox"), "Projects")
	assert.Equal(t, 2, projects.ContentCount())
	assert.False(t, projects.HasSubfolders())

	items := drain(t, projects)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Mail.Subject)
	assert.Equal(t, "second", items[1].Mail.Subject)
	assert.Equal(t, ItemID("Inbox/Projects/list.mbox", 1), items[1].ID)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestNonMailItemsAreTagged(t *testing.T) {
	root, err := NewReader(nil).Open(buildArchive(t))
	require.NoError(t, err)

	items := drain(t, root)
	require.Len(t, items, 1)
	assert.Equal(t, model.KindAppointment, items[0].Kind)
	assert.Nil(t, items[0].Mail)

	items = drain(t, subfolder(t, root, "Contacts"))
	require.Len(t, items, 1)
	assert.Equal(t, model.KindContact, items[0].Kind)
}

func TestParseMailRoutableSender(t *testing.T) {
	item, err := ParseMail(5, []byte(plainEML))
	require.NoError(t, err)

	assert.Equal(t, int64(5), item.ID)
	assert.Equal(t, model.SenderRoutable, item.SenderKind)
	assert.Equal(t, "alice@example.com", item.Sender)
	assert.Equal(t, "Hello", item.Subject)
	assert.Equal(t, 2015, item.SentAt.Year())
	assert.True(t, item.Read)
	assert.True(t, item.Replied)
	assert.True(t, item.Flagged)
	assert.Contains(t, item.Body, "plain body")
	assert.Contains(t, item.TransportHeaders, "X-Status: AF")
	assert.NotContains(t, item.TransportHeaders, "plain body")

	require.Len(t, item.Recipients, 2)
	assert.Equal(t, model.RecipientTo, item.Recipients[0].Kind)
	assert.Contains(t, item.Recipients[0].Address, "bob@example.com")
	assert.Equal(t, model.RecipientCc, item.Recipients[1].Kind)
}

func TestParseMailDirectorySenderAndAttachment(t *testing.T) {
	item, err := ParseMail(9, []byte(exchangeEML))
	require.NoError(t, err)

	assert.Equal(t, model.SenderDirectory, item.SenderKind)
	assert.Equal(t, "/O=ACME/OU=EXCHANGE/CN=RECIPIENTS/CN=JDOE", item.Sender)
	assert.False(t, item.Read)
	assert.Contains(t, item.Body, "see attached")

	require.Len(t, item.Attachments, 1)
	att := item.Attachments[0]
	assert.Equal(t, "report.pdf", att.LongFilename)
	assert.Equal(t, "report.pdf", att.DisplayName)

	rc, err := att.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "PDFDATA", string(data))
}

func TestCountMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.mbox")
	writeFile(t, path, twoMessageMbox)

	n, err := CountMessages(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = CountMessages(filepath.Join(t.TempDir(), "missing.mbox"))
	assert.Error(t, err)
}

func TestItemIDIsStable(t *testing.T) {
	assert.Equal(t, ItemID("a/b.eml", 0), ItemID("a/b.eml", 0))
	assert.NotEqual(t, ItemID("a/b.eml", 0), ItemID("a/b.eml", 1))
	assert.GreaterOrEqual(t, ItemID("a/b.eml", 3), int64(0))
}

func TestSubfoldersSkipsUnreadableChild(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "a.eml"), plainEML)
	writeFile(t, filepath.Join(root, "B", "b.eml"), plainEML)
	writeFile(t, filepath.Join(root, "C", "c.eml"), plainEML)

	folder, err := NewReader(nil).Open(root)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "B")))

	children, err := folder.Subfolders()
	require.NoError(t, err)
	var names []string
	for _, c := range children {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"A", "C"}, names)
}

func TestMalformedMboxMessageReleasesFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Inbox", "bad.mbox"),
		"From alice@example.com Wed Mar  4 10:30:00 2015\n"+
			"this line is not a header\n"+
			"\n"+
			"body\n")
	writeFile(t, filepath.Join(root, "Inbox", "z.eml"), plainEML)

	folder, err := NewReader(nil).Open(root)
	require.NoError(t, err)
	inbox := subfolder(t, folder, "Inbox")
	dir, ok := inbox.(*dirFolder)
	require.True(t, ok)

	item, err := inbox.NextItem()
	require.Error(t, err)
	assert.Nil(t, item)
	assert.Nil(t, dir.mboxFile)
	assert.Nil(t, dir.mboxRd)

	item, err = inbox.NextItem()
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "z.eml", item.Name)
}
