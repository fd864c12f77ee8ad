package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/charmbracelet/log"

	"github.com/motorbid/auction-engine/pkg/errors"
	"github.com/motorbid/auction-engine/pkg/types"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "bid", "join")
	Data json.RawMessage `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.TrySend(errors.New(errors.ErrRateLimited, "Rate limit exceeded").ToJSON())
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		client.TrySend(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON())
		return
	}

	switch msg.Type {
	case "join":
		h.handleJoinMessage(client, msg.Data)
	case "leave":
		h.handleLeaveMessage(client, msg.Data)
	case "bid":
		h.handleBidMessage(client, msg.Data)
	default:
		log.Infof("Unknown message type from client %s: %s", client.ID, msg.Type)
		client.TrySend(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON())
	}
}

type topicMessage struct {
	AuctionID string `json:"auction_id"`
}

// snapshot is pushed to a joining connection so late subscribers see a
// consistent state without waiting for the next bid.
type snapshot struct {
	AuctionID  string              `json:"auction_id"`
	CurrentBid int                 `json:"current_bid"`
	Status     types.AuctionStatus `json:"status"`
	EndDate    string              `json:"end_date"`
}

func (h *AuctionHandler) handleJoinMessage(client *Client, data json.RawMessage) {
	var joinMsg topicMessage
	if err := json.Unmarshal(data, &joinMsg); err != nil || joinMsg.AuctionID == "" {
		client.TrySend(errors.New(errors.ErrBadMessageFormat, "Invalid join message").ToJSON())
		return
	}

	// Subscribe before reading the snapshot: a bid committed during the read
	// reaches the client as a broadcast, and the snapshot's monotone
	// currentBid subsumes anything that landed before the subscription.
	h.Join(client, joinMsg.AuctionID)

	auction, err := h.db.GetAuctionByID(context.Background(), joinMsg.AuctionID)
	if err != nil {
		h.Leave(client, joinMsg.AuctionID)
		client.TrySend(errors.New(errors.ErrAuctionNotFound, "Auction not found").ToJSON())
		return
	}

	message, err := marshalMessage("snapshot", snapshot{
		AuctionID:  auction.ID,
		CurrentBid: auction.CurrentBid,
		Status:     auction.Status,
		EndDate:    auction.EndDate.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		log.Error("Error marshalling snapshot", "error", err)
		return
	}
	client.TrySend(message)
}

func (h *AuctionHandler) handleLeaveMessage(client *Client, data json.RawMessage) {
	var leaveMsg topicMessage
	if err := json.Unmarshal(data, &leaveMsg); err != nil || leaveMsg.AuctionID == "" {
		client.TrySend(errors.New(errors.ErrBadMessageFormat, "Invalid leave message").ToJSON())
		return
	}
	h.Leave(client, leaveMsg.AuctionID)
}

type bidRejected struct {
	AuctionID string `json:"auction_id"`
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
}

func (h *AuctionHandler) handleBidMessage(client *Client, data json.RawMessage) {
	type BidMessage struct {
		AuctionID string `json:"auction_id"`
		Amount    int    `json:"amount"`
	}
	var bidMsg BidMessage
	if err := json.Unmarshal(data, &bidMsg); err != nil || bidMsg.AuctionID == "" || bidMsg.Amount <= 0 {
		client.TrySend(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON())
		return
	}
	if h.bidder == nil {
		client.TrySend(errors.New(errors.ErrInternalServer, "Bidding unavailable").ToJSON())
		return
	}

	bid, err := h.bidder.PlaceBid(context.Background(), bidMsg.AuctionID, client.ID, client.Name, bidMsg.Amount)
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Code != errors.ErrInternalServer {
			// Validation rejections go back to the requesting connection
			// only, with an actionable reason.
			message, merr := marshalMessage("bid_rejected", bidRejected{
				AuctionID: bidMsg.AuctionID,
				Code:      appErr.Code,
				Reason:    appErr.Message,
			})
			if merr == nil {
				client.TrySend(message)
			}
			return
		}
		log.Error("Bid admission failed", "auction", bidMsg.AuctionID, "error", err)
		client.TrySend(errors.New(errors.ErrInternalServer, "Internal server error").ToJSON())
		return
	}

	// Subscribers (the caller included, if joined) receive the broadcast;
	// a caller bidding without joining still gets a direct acknowledgement.
	if !h.subscribed(client, bid.AuctionID) {
		message, merr := marshalMessage("bid_accepted", types.BidAcceptedEvent{
			AuctionID: bid.AuctionID,
			Amount:    bid.Amount,
			Bidder:    "You",
			IsWinning: bid.IsWinning,
			Timestamp: bid.CreatedAt,
		})
		if merr == nil {
			client.TrySend(message)
		}
	}
}
