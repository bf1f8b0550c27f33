package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/stoptracker/business/data/transit"
	"github.com/OpenTransitTools/stoptracker/business/stopprogress"
	"github.com/gorilla/mux"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//busHandler holds data needed to respond and log bus and stop requests
type busHandler struct {
	log     *log.Logger
	service *busService
}

//startTripRequest is the body of a start-trip request
type startTripRequest struct {
	RouteId string `json:"route_id"`
}

//ArrivalsResponse wraps the arrivals at a stop
type ArrivalsResponse struct {
	Timestamp int64                  `json:"timestamp"`
	StopId    string                 `json:"stop_id"`
	Arrivals  []stopprogress.Arrival `json:"arrivals"`
}

//PositionsResponse wraps the positions of all tracked buses
type PositionsResponse struct {
	Timestamp int64                      `json:"timestamp"`
	Positions []stopprogress.BusPosition `json:"positions"`
}

//errorResponse is written for every failed request
type errorResponse struct {
	Error string `json:"error"`
}

//location handles a GPS fix posted by a bus
func (b *busHandler) location(w http.ResponseWriter, r *http.Request) {
	busId := mux.Vars(r)["busId"]
	var message FixMessage
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		b.writeError(w, http.StatusBadRequest, "malformed fix: "+err.Error())
		return
	}
	fix, err := message.fix()
	if err != nil {
		b.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := b.service.processFix(r.Context(), busId, fix)
	if err != nil {
		b.writeServiceError(w, err)
		return
	}
	b.writeJSON(w, http.StatusOK, result)
}

//startTrip handles a bus starting a trip on a route
func (b *busHandler) startTrip(w http.ResponseWriter, r *http.Request) {
	busId := mux.Vars(r)["busId"]
	var request startTripRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		b.writeError(w, http.StatusBadRequest, "malformed start trip request: "+err.Error())
		return
	}
	if request.RouteId == "" {
		b.writeError(w, http.StatusBadRequest, "route_id is required")
		return
	}
	position, err := b.service.startTrip(r.Context(), busId, request.RouteId)
	if err != nil {
		b.writeServiceError(w, err)
		return
	}
	b.writeJSON(w, http.StatusOK, position)
}

//endTrip handles a bus ending its trip
func (b *busHandler) endTrip(w http.ResponseWriter, r *http.Request) {
	position, err := b.service.endTrip(r.Context(), mux.Vars(r)["busId"])
	if err != nil {
		b.writeServiceError(w, err)
		return
	}
	b.writeJSON(w, http.StatusOK, position)
}

//position returns the last accepted position of a bus
func (b *busHandler) position(w http.ResponseWriter, r *http.Request) {
	busId := mux.Vars(r)["busId"]
	position, present := b.service.tracker.Position(busId)
	if !present {
		b.writeError(w, http.StatusNotFound, "unknown bus "+busId)
		return
	}
	b.writeJSON(w, http.StatusOK, position)
}

//positions returns the positions of every tracked bus
func (b *busHandler) positions(w http.ResponseWriter, _ *http.Request) {
	b.writeJSON(w, http.StatusOK, PositionsResponse{
		Timestamp: time.Now().Unix(),
		Positions: b.service.tracker.Positions(),
	})
}

//upcoming returns the stops a bus has still to reach with ETAs
func (b *busHandler) upcoming(w http.ResponseWriter, r *http.Request) {
	upcoming, err := b.service.tracker.UpcomingStops(r.Context(), mux.Vars(r)["busId"])
	if err != nil {
		b.writeServiceError(w, err)
		return
	}
	b.writeJSON(w, http.StatusOK, upcoming)
}

//arrivals returns buses heading to a stop, optionally limited to route_id query parameters
func (b *busHandler) arrivals(w http.ResponseWriter, r *http.Request) {
	stopId := mux.Vars(r)["stopId"]
	var routeIds []string
	for _, value := range r.URL.Query()["route_id"] {
		for _, routeId := range strings.Split(value, ",") {
			if routeId = strings.TrimSpace(routeId); routeId != "" {
				routeIds = append(routeIds, routeId)
			}
		}
	}
	arrivals, err := b.service.arrivals(r.Context(), stopId, routeIds)
	if err != nil {
		b.writeServiceError(w, err)
		return
	}
	b.writeJSON(w, http.StatusOK, ArrivalsResponse{
		Timestamp: time.Now().Unix(),
		StopId:    stopId,
		Arrivals:  arrivals,
	})
}

//writeServiceError maps err to a status code and writes it
func (b *busHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transit.ErrRouteNotFound), errors.Is(err, transit.ErrStopNotFound):
		b.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, stopprogress.ErrInvalidRoute):
		b.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case isClientError(err):
		b.writeError(w, http.StatusConflict, err.Error())
	default:
		b.log.Printf("Error serving request, error:%v", err)
		b.writeError(w, http.StatusInternalServerError, "Error serving request")
	}
}

func (b *busHandler) writeError(w http.ResponseWriter, status int, message string) {
	b.writeJSON(w, status, errorResponse{Error: message})
}

//writeJSON marshals v and writes it with status
func (b *busHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		b.log.Printf("Error marshaling response to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(jsonData); err != nil {
		b.log.Printf("Error writing json response: %s", err)
	}
}

//makeRouter creates routes for the bus tracker web service
func makeRouter(log *log.Logger, service *busService, metrics *Collector) *mux.Router {
	handler := &busHandler{log: log, service: service}

	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/buses", handler.positions).Methods(http.MethodGet)
	r.HandleFunc("/buses/{busId}/location", handler.location).Methods(http.MethodPost)
	r.HandleFunc("/buses/{busId}/start-trip", handler.startTrip).Methods(http.MethodPost)
	r.HandleFunc("/buses/{busId}/end-trip", handler.endTrip).Methods(http.MethodPost)
	r.HandleFunc("/buses/{busId}/position", handler.position).Methods(http.MethodGet)
	r.HandleFunc("/buses/{busId}/upcoming", handler.upcoming).Methods(http.MethodGet)
	r.HandleFunc("/stops/{stopId}/arrivals", handler.arrivals).Methods(http.MethodGet)
	return r
}

//createServer creates configured http.Server for the bus tracker web service
func createServer(log *log.Logger, service *busService, metrics *Collector, httpPort int) *http.Server {
	srv := &http.Server{
		Addr:         strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      makeRouter(log, service, metrics),
	}
	return srv
}

//runWebService starts up the bus tracker web service, and terminates on shutdown signal
func runWebService(log *log.Logger,
	wg *sync.WaitGroup,
	service *busService,
	metrics *Collector,
	httpPort int,
	shutdownSignal chan bool,
) {
	defer wg.Done()
	srv := createServer(log, service, metrics, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
