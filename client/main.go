// Command client is a small websocket console for poking at a running server.
//
// Each stdin line is "op [sessionId] [arg...]", or "sub TOPIC sessionId".
// Examples:
//
//	createSession
//	joinSession 6f1c...
//	initTurn 6f1c... chateau
//	sub GUESS_UPDATE 6f1c...
package main

import (
	"bufio"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/network"
	"github.com/wfunc/esquisse/server"
	"github.com/wfunc/esquisse/services"
)

func send(c *websocket.Conn, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet, err := network.Encode(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// parseLine turns one console line into a packet id and body.
func parseLine(line string, requestID int) (uint16, any, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, nil, false
	}
	id := strconv.Itoa(requestID)

	if fields[0] == "sub" || fields[0] == "unsub" {
		if len(fields) != 3 {
			return 0, nil, false
		}
		topic, err := models.ParseTopic(fields[1])
		if err != nil {
			return 0, nil, false
		}
		msgID := uint16(network.MsgTypeSubscribe)
		if fields[0] == "unsub" {
			msgID = network.MsgTypeUnsubscribe
		}
		return msgID, network.SubscribeRequest{RequestID: id, Topic: topic, SessionID: fields[2]}, true
	}

	cmd := services.Command{RequestID: id, Op: services.Op(fields[0])}
	if len(fields) > 1 {
		cmd.SessionID = fields[1]
	}
	args := fields[min(len(fields), 2):]
	switch cmd.Op {
	case services.OpChangeStatus:
		if len(args) > 0 {
			cmd.Status = args[0]
		}
	case services.OpInitTurn, services.OpSubmitGuess:
		cmd.Word = strings.Join(args, " ")
	case services.OpModifyConcept:
		// modifyConcept sid listIndex conceptId add|remove
		if len(args) == 3 {
			cmd.ListIndex, _ = strconv.Atoi(args[0])
			cmd.ConceptID = args[1]
			cmd.Action = args[2]
		}
	case services.OpModifyConceptsList:
		if len(args) == 2 {
			cmd.ListIndex, _ = strconv.Atoi(args[0])
			cmd.Action = args[1]
		}
	}
	return network.MsgTypeCommand, cmd, true
}

func main() {
	addr := pflag.String("addr", "localhost:8080", "server address")
	token := pflag.String("token", "", "player token")
	secret := pflag.String("secret", "", "sign a token locally with this secret instead of --token")
	player := pflag.String("player", "", "player id for a locally signed token")
	pflag.Parse()

	if *token == "" && *secret != "" && *player != "" {
		signed, err := server.IssueToken(models.PlayerProfile{ID: *player, Name: *player}, *secret, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		*token = signed
	}
	if *token == "" {
		log.Fatal("--token, or --secret with --player, is required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(*token)}
	log.Printf("Connecting to %s", u.Host)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.Decode(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	requestID := 0
	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			requestID++
			msgID, body, valid := parseLine(line, requestID)
			if !valid {
				log.Printf("Cannot parse %q", line)
				continue
			}
			if err := send(c, msgID, body); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT (ID: %d) request %d", msgID, requestID)
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
