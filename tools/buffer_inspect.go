// Command buffer_inspect dumps the buffered-message store of a running
// or stopped engine. Read-only: safe to point at a live DB directory.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"dm-engine/repositories"
)

func main() {
	dbPath := flag.String("db", "./data", "Path to badger DB")
	receiver := flag.String("receiver", "", "Limit scan to one receiver")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Chat", "Sender", "Receiver", "Sent At", "Status", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	prefix := "buf:"
	if *receiver != "" {
		prefix = fmt.Sprintf("buf:%s:", *receiver)
	}

	var total, undelivered int
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var record repositories.BufferedMessage
				if err := json.Unmarshal(v, &record); err != nil {
					// Don't stop the whole scan on one bad record
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				total++
				status := color.Green.Sprint("delivered")
				if !record.Delivered {
					undelivered++
					status = color.Yellow.Sprint("pending")
				}

				content := record.Content
				if len(content) > 40 {
					content = content[:40] + "..."
				}

				// Show the first 8 characters of the chat ID for readability
				displayChat := string(record.ChatID)
				if len(displayChat) > 8 {
					displayChat = displayChat[:8]
				}

				table.Append([]string{
					string(item.Key()),
					displayChat,
					record.Sender,
					record.Receiver,
					record.SentAt.Format(time.RFC3339),
					status,
					content,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("\n%d buffered messages, %d pending\n", total, undelivered)
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
