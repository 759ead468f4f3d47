// Package submanager manages websocket subscriptions to a mint as
// defined in NUT-17. It is used to get notified of quote and proof
// state changes instead of polling.
package submanager

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ecashdev/walnut/cashu"
	"github.com/ecashdev/walnut/cashu/nuts/nut06"
	"github.com/ecashdev/walnut/cashu/nuts/nut17"
	"github.com/ecashdev/walnut/wallet"
	"github.com/gorilla/websocket"
)

var (
	ErrNotSupported = errors.New("mint does not support subscriptions")
)

type SubscriptionManager struct {
	wsConn           *websocket.Conn
	mu               sync.RWMutex
	subs             map[string]*Subscription
	idCounter        int
	supportedMethods []nut06.SupportedMethod
	quit             chan struct{}
}

func NewSubscriptionManager(mint string) (*SubscriptionManager, error) {
	mintInfo, err := wallet.GetMintInfo(mint)
	if err != nil {
		return nil, fmt.Errorf("could not get mint info: %v", err)
	}
	if len(mintInfo.Nuts.Nut17.Supported) == 0 {
		return nil, ErrNotSupported
	}

	mintURL, err := url.Parse(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint url: %v", err)
	}

	scheme := "ws"
	if mintURL.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := scheme + "://" + mintURL.Host + mintURL.Path + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	subManager := &SubscriptionManager{
		wsConn:           conn,
		subs:             make(map[string]*Subscription),
		idCounter:        0,
		supportedMethods: mintInfo.Nuts.Nut17.Supported,
		quit:             make(chan struct{}),
	}

	return subManager, nil
}

// Run reads messages from the websocket until Close is called or a
// read fails. It should be run on a separate goroutine; an error sent
// on the channel means the subscription manager should be closed.
func (sm *SubscriptionManager) Run(errChannel chan error) {
	if err := sm.handleWsMessages(); err != nil {
		errChannel <- err
	}
}

func (sm *SubscriptionManager) Close() error {
	close(sm.quit)
	return sm.wsConn.Close()
}

func (sm *SubscriptionManager) handleWsMessages() error {
	for {
		select {
		case <-sm.quit:
			return nil
		default:
			_, msg, err := sm.wsConn.ReadMessage()
			if err != nil {
				select {
				case <-sm.quit:
					return nil
				default:
					return err
				}
			}
			sm.dispatch(msg)
		}
	}
}

func (sm *SubscriptionManager) dispatch(msg []byte) {
	var notification nut17.WsNotification
	if err := json.Unmarshal(msg, &notification); err == nil && len(notification.Params.SubId) > 0 {
		sm.mu.RLock()
		sub, ok := sm.subs[notification.Params.SubId]
		sm.mu.RUnlock()
		if ok {
			sub.notificationChannel <- notification
		}
		return
	}

	var wsError nut17.WsError
	if err := json.Unmarshal(msg, &wsError); err == nil && len(wsError.Error.Message) > 0 {
		sm.mu.RLock()
		defer sm.mu.RUnlock()
		for _, sub := range sm.subs {
			if sub.id == wsError.Id {
				sub.errChannel <- wsError
				return
			}
		}
		return
	}

	var response nut17.WsResponse
	if err := json.Unmarshal(msg, &response); err == nil {
		sm.mu.RLock()
		defer sm.mu.RUnlock()
		for _, sub := range sm.subs {
			if sub.id == response.Id {
				sub.responseChannel <- response
				return
			}
		}
	}
}

func (sm *SubscriptionManager) removeSubscription(id string) {
	sm.mu.Lock()
	delete(sm.subs, id)
	sm.mu.Unlock()
}

func (sm *SubscriptionManager) Subscribe(kind nut17.SubscriptionKind, filters []string) (*Subscription, error) {
	if len(filters) < 1 {
		return nil, errors.New("filters cannot be empty")
	}

	if !sm.IsSubscriptionKindSupported(kind) {
		return nil, fmt.Errorf("subscription to %s not supported by mint", kind)
	}

	hash := sha256.Sum256([]byte(filters[0]))
	subId := hex.EncodeToString(hash[:])

	sm.mu.Lock()
	id := sm.idCounter
	sm.idCounter++
	sub := &Subscription{
		id:                  id,
		subId:               subId,
		responseChannel:     make(chan nut17.WsResponse, 1),
		notificationChannel: make(chan nut17.WsNotification, 8),
		errChannel:          make(chan nut17.WsError, 1),
	}
	sm.subs[subId] = sub
	sm.mu.Unlock()

	request := nut17.WsRequest{
		JsonRPC: nut17.JSONRPC_2,
		Method:  nut17.SUBSCRIBE,
		Params: nut17.RequestParams{
			Kind:    kind.String(),
			SubId:   subId,
			Filters: filters,
		},
		Id: id,
	}
	if err := sm.wsConn.WriteJSON(request); err != nil {
		sm.removeSubscription(subId)
		return nil, fmt.Errorf("could not send request for subscription: %v", err)
	}

	select {
	case response := <-sub.responseChannel:
		if response.Result.Status == nut17.OK {
			return sub, nil
		}
	case wsErr := <-sub.errChannel:
		sm.removeSubscription(subId)
		return nil, fmt.Errorf("could not setup subscription to mint: %v", wsErr.ErrorMessage())
	case <-time.After(10 * time.Second):
	}

	sm.removeSubscription(subId)
	return nil, errors.New("could not setup subscription to mint")
}

func (sm *SubscriptionManager) CloseSubscription(subId string) error {
	sm.mu.RLock()
	_, ok := sm.subs[subId]
	sm.mu.RUnlock()
	if !ok {
		return errors.New("subscription does not exist")
	}

	sm.mu.Lock()
	id := sm.idCounter
	sm.idCounter++
	sm.mu.Unlock()

	request := nut17.WsRequest{
		JsonRPC: nut17.JSONRPC_2,
		Method:  nut17.UNSUBSCRIBE,
		Params: nut17.RequestParams{
			SubId: subId,
		},
		Id: id,
	}
	if err := sm.wsConn.WriteJSON(request); err != nil {
		return fmt.Errorf("could not send unsubscribe request to mint: %v", err)
	}
	sm.removeSubscription(subId)

	return nil
}

func (sm *SubscriptionManager) IsSubscriptionKindSupported(kind nut17.SubscriptionKind) bool {
	for _, method := range sm.supportedMethods {
		if method.Method == cashu.BOLT11_METHOD {
			if slices.Contains(method.Commands, kind.String()) {
				return true
			}
		}
	}
	return false
}

type Subscription struct {
	subId               string
	id                  int
	responseChannel     chan nut17.WsResponse
	notificationChannel chan nut17.WsNotification
	errChannel          chan nut17.WsError
}

// Read blocks until the next notification for this subscription.
func (s *Subscription) Read() (nut17.WsNotification, error) {
	msg, ok := <-s.notificationChannel
	if !ok {
		return nut17.WsNotification{}, errors.New("could not read from subscription. Channel got closed")
	}
	return msg, nil
}

func (s *Subscription) SubId() string {
	return s.subId
}
